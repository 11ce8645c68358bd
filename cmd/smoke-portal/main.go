package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/ids"
)

func main() {
	base := strings.TrimRight(os.Getenv("PORTAL_URL"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	hc := &http.Client{Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// wait for readiness
	op := func() error {
		status, _, err := call(ctx, hc, http.MethodGet, base+"/readyz", "", nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("readyz: status %d", status)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		log.Fatalf("portal at %s not ready: %v", base, err)
	}

	status, body, err := call(ctx, hc, http.MethodGet, base+"/v1/info", "", nil)
	if err != nil || status != http.StatusOK {
		log.Fatalf("info: status=%d err=%v", status, err)
	}
	var info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		log.Fatalf("info decode: %v", err)
	}

	suffix := strings.ToLower(ids.New())
	status, body, err = call(ctx, hc, http.MethodPost, base+"/v1/memberships", "", map[string]string{
		"name":      "smoke " + suffix,
		"email":     "smoke+" + suffix + "@example.org",
		"structure": envOr("PORTAL_SMOKE_STRUCTURE", "smoke-structure"),
		"secteur":   envOr("PORTAL_SMOKE_SECTOR", "smoke-sector"),
		"message":   "smoke test",
	})
	if err != nil {
		log.Fatalf("membership submit: %v", err)
	}
	if status != http.StatusCreated {
		log.Fatalf("membership submit: status %d: %s", status, body)
	}

	// With a shared secret the admin listing can be checked too.
	if secret := os.Getenv("PORTAL_AUTH_SECRET"); secret != "" {
		token, err := auth.SignToken([]byte(secret), auth.Principal{SubjectID: "smoke-admin", Role: auth.RoleAdmin}, time.Minute)
		if err != nil {
			log.Fatalf("sign token: %v", err)
		}
		status, body, err = call(ctx, hc, http.MethodGet, base+"/v1/dashboard", token, nil)
		if err != nil || status != http.StatusOK {
			log.Fatalf("dashboard: status=%d err=%v body=%s", status, err, body)
		}
	}

	fmt.Printf("✅ portal smoke test passed: %s %s\n", info.Name, info.Version)
}

func call(ctx context.Context, hc *http.Client, method, url, token string, payload any) (int, []byte, error) {
	var rdr io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
