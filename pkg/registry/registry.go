// Package registry extracts resolver entries from the public resolver lists
// published by the DNSCrypt project, such as public-resolvers.md.
//
// An entry is a "## name" header line, followed by free-form description
// lines, followed by one or more "sdns://" stamp lines.
package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/TheCjw/DoHVerifier/pkg/stamp"
)

// PublicResolvers is the upstream location of the public resolver list.
const PublicResolvers = "https://download.dnscrypt.info/resolvers-list/v3/public-resolvers.md"

// Record is one resolver block of a registry document.
type Record struct {
	Name        string
	Description string
	Stamp       string // includes the sdns:// scheme
}

// Parse scans a registry document. Only the first stamp of every block is
// returned; a block without a stamp is skipped.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		current *Record
		desc    []string
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "##"):
			current = &Record{Name: strings.TrimSpace(strings.TrimLeft(line, "#"))}
			desc = desc[:0]
		case current == nil:
			// preamble, or lines after a block's stamp
		case strings.HasPrefix(line, stamp.Scheme):
			current.Description = strings.Join(desc, "\n")
			current.Stamp = strings.Fields(line)[0]
			records = append(records, *current)
			current = nil
		case line != "":
			desc = append(desc, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("registry: error scanning document: %w", err)
	}

	return records, nil
}

// Load reads and parses the registry at source, which is either a local path
// or an http(s) URL. Downloads are retried with backoff.
func Load(ctx context.Context, source string, logger *slog.Logger) ([]Record, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		defer f.Close()

		return Parse(f)
	}

	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultClient()
	client.Logger = logger
	client.RetryMax = 3

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: error creating HTTP request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: error downloading %q: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: %q returned status code: %d (%s)", source, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return Parse(resp.Body)
}

// Decode decodes the stamp of every record and returns the DoH entries in
// document order. Stamps of other protocols are skipped silently; any other
// decoding failure is logged and the record is skipped.
func Decode(records []Record, logger *slog.Logger) []*stamp.Entry {
	if logger == nil {
		logger = slog.Default()
	}

	entries := make([]*stamp.Entry, 0, len(records))
	for _, record := range records {
		entry, err := stamp.DecodeURI(record.Name, record.Description, record.Stamp)
		if err != nil {
			if !errors.Is(err, stamp.ErrUnsupportedProtocol) {
				logger.Warn("skipping resolver with invalid stamp", "name", record.Name, "error", err)
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
