package ctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// jobClient carries requests that wait for a daemon job. Projection builds
// on large scenes take minutes.
var jobClient = &http.Client{Timeout: 30 * time.Minute}

// getJSON sends a GET request and decodes the JSON response into dst.
func getJSON(baseURL, path string, dst any) error {
	return doJSON(httpClient, http.MethodGet, baseURL, path, nil, dst)
}

// getRaw sends a GET request and returns the raw response body.
func getRaw(baseURL, path string) (int, []byte, error) {
	url := strings.TrimRight(baseURL, "/") + path
	resp, err := httpClient.Get(url)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// postJSON sends a POST request with a JSON body and decodes the response.
func postJSON(baseURL, path string, body, dst any) error {
	return doJSON(httpClient, http.MethodPost, baseURL, path, body, dst)
}

// runJob is postJSON without the short timeout. A failed job still decodes
// into dst so the caller can print the daemon's error message.
func runJob(method, baseURL, path string, dst *commandResult) error {
	err := doJSON(jobClient, method, baseURL, path, nil, dst)
	if err != nil && dst.Error != "" {
		return nil
	}
	return err
}

// commandResult mirrors scheduler.CommandResult with Data kept raw.
type commandResult struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(client *http.Client, method, baseURL, path string, body, dst any) error {
	url := strings.TrimRight(baseURL, "/") + path
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		// The daemon answers errors in JSON; keep whatever decodes.
		_ = json.Unmarshal(b, dst)
		msg := strings.TrimSpace(string(b))
		if msg != "" {
			return fmt.Errorf("HTTP %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("HTTP %s from %s", resp.Status, path)
	}
	return json.Unmarshal(b, dst)
}

// printJSON prints v as indented JSON to stdout.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
