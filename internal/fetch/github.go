package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// githubScheme prefixes references of the form
// github://owner/repo/path/to/file.md, resolved against the repository's
// default branch.
const githubScheme = "github://"

// githubSource lazily builds one rate-limited GitHub client. If
// GITHUB_TOKEN is set the client is authenticated, which raises the API
// rate limit from 60 to 5000 requests per hour.
type githubSource struct {
	once   sync.Once
	client *github.Client
	err    error
}

func (g *githubSource) get() (*github.Client, error) {
	g.once.Do(func() {
		rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
		if err != nil {
			g.err = fmt.Errorf("building github rate limiter: %w", err)
			return
		}

		client := github.NewClient(rateLimiter)
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			client = client.WithAuthToken(token)
		}
		g.client = client
	})
	return g.client, g.err
}

func (f *Fetcher) fetchGitHub(ctx context.Context, reference string) (*Document, error) {
	owner, repo, filePath, err := parseGitHubRef(reference)
	if err != nil {
		return nil, err
	}

	client, err := f.github.get()
	if err != nil {
		return nil, err
	}

	fileContent, _, _, err := client.Repositories.GetContents(ctx, owner, repo, filePath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", reference, err)
	}
	if fileContent == nil || fileContent.Content == nil {
		return nil, fmt.Errorf("%s did not resolve to file content", reference)
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return nil, fmt.Errorf("decoding content of %s: %w", reference, err)
	}
	if int64(len(content)) > f.maxBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", reference, f.maxBytes)
	}
	return f.newDocument(reference, content)
}

// parseGitHubRef splits github://owner/repo/path into its parts.
func parseGitHubRef(reference string) (owner, repo, filePath string, err error) {
	rest := strings.TrimPrefix(reference, githubScheme)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed github reference %q, want github://owner/repo/path", reference)
	}
	return parts[0], parts[1], parts[2], nil
}
