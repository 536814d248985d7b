package docparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// llamaParseConfig configures the remote LlamaParse fallback.
type llamaParseConfig struct {
	APIKey  string
	BaseURL string
}

// llamaParseClient uploads a PDF to the LlamaParse service and turns its
// markdown result back into page blocks, using the same section-splitting
// logic the native extractor uses (the remote result has no page
// boundaries, so it is treated as one page).
type llamaParseClient struct {
	cfg llamaParseConfig
}

func newLlamaParseClient(cfg llamaParseConfig) *llamaParseClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cloud.llamaindex.ai/api/parsing"
	}
	return &llamaParseClient{cfg: cfg}
}

func (c *llamaParseClient) parse(ctx context.Context, path string) ([]Block, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("docparse: LlamaParse API key not configured")
	}

	jobID, err := c.uploadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("uploading to LlamaParse: %w", err)
	}

	markdown, err := c.pollResult(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("getting LlamaParse result: %w", err)
	}

	sections := splitPageIntoSections(markdown, 1)
	var blocks []Block
	order := map[int]int{}
	for _, s := range sections {
		order[s.PageNumber]++
		blocks = append(blocks, Block{
			Type:    classifyBlock(s),
			Content: blockContent(s),
			Page:    s.PageNumber,
			Order:   order[s.PageNumber],
		})
	}
	return blocks, nil
}

func (c *llamaParseClient) uploadFile(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (c *llamaParseClient) pollResult(ctx context.Context, jobID string) (string, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	for i := 0; i < 60; i++ { // max ~5 minutes
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		req, err := http.NewRequestWithContext(ctx, "GET",
			fmt.Sprintf("%s/job/%s/result/markdown", c.cfg.BaseURL, jobID), nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			var result struct {
				Markdown string `json:"markdown"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return string(body), nil // raw text fallback
			}
			return result.Markdown, nil
		}
		if resp.StatusCode != http.StatusAccepted {
			return "", fmt.Errorf("LlamaParse error %d: %s", resp.StatusCode, string(body))
		}
	}

	return "", fmt.Errorf("LlamaParse job timed out")
}
