// Package update checks GitHub releases for a newer meshwatch build.
package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultReleaseURL = "https://api.github.com/repos/meshwatch/meshwatch/releases/latest"
	checkInterval     = 24 * time.Hour
)

// Release is the part of the GitHub release API response we read.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Result describes a newer release than the running build.
type Result struct {
	LatestVersion string
	URL           string
}

// Checker polls the release feed and reports when a newer tag appears.
// Check failures are logged and never fatal.
type Checker struct {
	version    string
	releaseURL string
	stopChan   chan struct{}
	waitGroup  sync.WaitGroup
	client     *http.Client
	results    chan Result
}

// NewChecker creates a checker for the given running version.
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		releaseURL: defaultReleaseURL,
		stopChan:   make(chan struct{}),
		results:    make(chan Result, 1),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start runs an immediate check and then re-checks daily.
func (c *Checker) Start() {
	c.waitGroup.Add(1)
	go c.run()
}

// Stop halts the periodic checks.
func (c *Checker) Stop() {
	close(c.stopChan)
	c.waitGroup.Wait()
}

// Results delivers at most one pending update notice.
func (c *Checker) Results() <-chan Result {
	return c.results
}

func (c *Checker) run() {
	defer c.waitGroup.Done()

	c.checkOnce()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkOnce()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Checker) checkOnce() {
	res, err := c.Check()
	if err != nil {
		log.WithError(err).Info("Update check failed")
		return
	}
	if res.LatestVersion == "" {
		return
	}
	select {
	case c.results <- res:
	default:
	}
}

// Check fetches the latest release tag and compares it to the running
// version. An empty Result means the build is current.
func (c *Checker) Check() (Result, error) {
	req, err := http.NewRequest("GET", c.releaseURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("release check failed with status: %d", resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Result{}, err
	}

	if !Newer(rel.TagName, c.version) {
		return Result{}, nil
	}
	return Result{LatestVersion: rel.TagName, URL: rel.HTMLURL}, nil
}

// Newer reports whether tag names a more recent release than version.
// Both sides tolerate a leading "v". Development builds with no numeric
// version never see updates.
func Newer(tag, version string) bool {
	b := parseVersion(version)
	if b == [3]int{} {
		return false
	}
	a := parseVersion(tag)
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func parseVersion(s string) [3]int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	var out [3]int
	parts := strings.SplitN(s, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		out[i] = numericPrefix(parts[i])
	}
	return out
}

// numericPrefix reads the leading digits of s, so "3-rc1" parses as 3.
func numericPrefix(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}
