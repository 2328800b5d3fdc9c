package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	stamps "github.com/jedisct1/go-dnsstamps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCjw/DoHVerifier/internal/httpclient"
	"github.com/TheCjw/DoHVerifier/internal/report"
)

// resetHelp clears the help flag, which keeps its value between executions.
func resetHelp() {
	if f := CommandRoot.Flags().Lookup("help"); f != nil {
		f.Value.Set("false")
		f.Changed = false
	}
}

func testCommand(t *testing.T, args ...string) (stdout, stderr *bytes.Buffer) {
	t.Helper()

	resetHelp()
	CommandRoot.SetArgs(args)

	stdout = bytes.NewBuffer(nil)
	stderr = bytes.NewBuffer(nil)

	CommandRoot.SetOut(stdout)
	CommandRoot.SetErr(stderr)

	err := CommandRoot.Execute()
	if err != nil {
		t.Fatal(err)
	}

	return stdout, stderr
}

func dohStamp(hostname, path, addr string) string {
	s := stamps.ServerStamp{
		Proto:         stamps.StampProtoTypeDoH,
		Props:         stamps.ServerInformalPropertyDNSSEC,
		ServerAddrStr: addr,
		ProviderName:  hostname,
		Path:          path,
	}
	return s.String()
}

func writeRegistry(t *testing.T, blocks ...[2]string) string {
	t.Helper()

	var doc strings.Builder
	doc.WriteString("# public-resolvers\n\nTest list.\n\n")
	for _, b := range blocks {
		fmt.Fprintf(&doc, "## %s\n\nResolver %s.\n\n%s\n\n", b[0], b[0], b[1])
	}

	path := filepath.Join(t.TempDir(), "public-resolvers.md")
	require.NoError(t, os.WriteFile(path, []byte(doc.String()), 0o600))
	return path
}

func TestCommand(t *testing.T) {
	good := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dns-json")
		fmt.Fprintf(w, `{"Status":0,"Answer":[{"name":%q,"type":1,"TTL":60,"data":"192.0.2.10"}]}`, r.URL.Query().Get("name"))
	}))
	defer good.Close()

	silent := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer silent.Close()

	failing := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer failing.Close()

	restore := newHTTPClient
	newHTTPClient = func(httpclient.Options) (*http.Client, error) {
		// httptest TLS servers share a certificate, so any of their clients
		// trusts all of them.
		return good.Client(), nil
	}
	t.Cleanup(func() { newHTTPClient = restore })

	host := func(srv *httptest.Server) string { return srv.Listener.Addr().String() }

	registryPath := writeRegistry(t,
		[2]string{"good", dohStamp(host(good), "/dns-query", "")},
		[2]string{"silent", dohStamp(host(silent), "/dns-query", "127.0.0.1")},
		[2]string{"failing", dohStamp(host(failing), "/dns-query", "")},
		[2]string{"ipv6-only", dohStamp(host(good), "/dns-query", "[::1]")},
		[2]string{"dnscrypt", "sdns://AQcAAAAAAAAADDkuOS45Ljk6ODQ0MyBnyEe4yHWM0SAkVUO-dWdG3zTfHYTAC4xHA2jfgh2GPhkyLmRuc2NyeXB0LWNlcnQucXVhZDkubmV0"},
		[2]string{"truncated", "sdns://AgcAAAAAAAAABzEuMC4wLjE"},
	)

	geoDB := filepath.Join(t.TempDir(), "GeoLite2-Country.mmdb")

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, stdout, stderr *bytes.Buffer)
	}{
		{
			name: "help",
			args: []string{"--help"},
			check: func(t *testing.T, stdout, stderr *bytes.Buffer) {
				if stdout.Len() == 0 {
					t.Error("got no help output")
				}
			},
		},
		{
			name: "json",
			args: []string{"--registry", registryPath, "--geoip-db", geoDB, "--timeout", "500ms", "--workers", "4", "--format", "json", "--query", "dl.google.com", "--log-level", "info"},
			check: func(t *testing.T, stdout, stderr *bytes.Buffer) {
				dec := json.NewDecoder(stdout)

				var rows []report.Row
				for dec.More() {
					var row report.Row
					require.NoError(t, dec.Decode(&row))
					rows = append(rows, row)
				}
				require.Len(t, rows, 2)

				assert.Equal(t, "good", rows[0].Name)
				assert.Equal(t, "ok", rows[0].Status)
				assert.Equal(t, "192.0.2.10", rows[0].ResolvedIP)
				assert.Equal(t, "https://"+host(good)+"/dns-query", rows[0].URL)
				assert.True(t, rows[0].DNSSEC)

				assert.Equal(t, "silent", rows[1].Name)
				assert.Equal(t, "timeout", rows[1].Status)
				assert.Equal(t, "127.0.0.1", rows[1].Address)

				logs := stderr.String()
				assert.Contains(t, logs, "country database not found")
				assert.Contains(t, logs, "name=truncated")
				assert.NotContains(t, logs, "name=dnscrypt")
			},
		},
		{
			name: "table",
			args: []string{"--registry", registryPath, "--geoip-db", geoDB, "--timeout", "500ms", "--workers", "4", "--format", "table", "--query", "example.com", "--log-level", "error"},
			check: func(t *testing.T, stdout, stderr *bytes.Buffer) {
				out := stdout.String()
				assert.Contains(t, out, "latency(ms)")
				assert.Contains(t, out, "example.com")
				assert.Contains(t, out, "192.0.2.10")
				assert.Contains(t, out, "timeout")
				assert.NotContains(t, out, "failing")
				assert.NotContains(t, out, "ipv6-only")
				assert.Empty(t, stderr.String())
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			stdout, stderr := testCommand(t, test.args...)

			test.check(t, stdout, stderr)
		})
	}
}

func TestCommandMissingRegistry(t *testing.T) {
	resetHelp()
	CommandRoot.SetArgs([]string{"--registry", filepath.Join(t.TempDir(), "missing.md"), "--log-level", "error"})
	CommandRoot.SetOut(io.Discard)
	CommandRoot.SetErr(io.Discard)

	err := CommandRoot.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCommandDecode(t *testing.T) {
	stdout, _ := testCommand(t, "decode",
		"sdns://AgcAAAAAAAAABzEuMC4wLjEAEmRucy5jbG91ZGZsYXJlLmNvbQovZG5zLXF1ZXJ5",
		"sdns://AQcAAAAAAAAADDkuOS45Ljk6ODQ0MyBnyEe4yHWM0SAkVUO-dWdG3zTfHYTAC4xHA2jfgh2GPhkyLmRuc2NyeXB0LWNlcnQucXVhZDkubmV0",
	)

	dec := json.NewDecoder(stdout)

	var first, second decoded
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "DoH", first.Protocol)
	assert.Equal(t, uint64(7), first.Props)
	assert.Equal(t, "1.0.0.1", first.Address)
	assert.Equal(t, "https://dns.cloudflare.com/dns-query", first.URL)
	assert.Empty(t, first.Error)

	assert.Equal(t, "stamp: unsupported protocol DNSCrypt", second.Error)
	assert.Empty(t, second.URL)
}

func TestCommandFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DOHV_WORKERS", "abc")
	t.Setenv("DOHV_TIMEOUT", "never")

	good := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dns-json")
		fmt.Fprint(w, `{"Status":0,"Answer":[{"type":1,"data":"192.0.2.20"}]}`)
	}))
	defer good.Close()

	var got httpclient.Options
	restore := newHTTPClient
	newHTTPClient = func(opts httpclient.Options) (*http.Client, error) {
		got = opts
		return good.Client(), nil
	}
	t.Cleanup(func() { newHTTPClient = restore })

	registryPath := writeRegistry(t, [2]string{"good", dohStamp(good.Listener.Addr().String(), "/dns-query", "")})

	stdout, _ := testCommand(t, "--registry", registryPath, "--geoip-db", filepath.Join(t.TempDir(), "none.mmdb"),
		"--workers", "3", "--timeout", "1s", "--format", "json", "--log-level", "error")

	assert.Equal(t, 3, got.MaxIdleConnsPerHost)
	assert.Contains(t, stdout.String(), "192.0.2.20")
}
