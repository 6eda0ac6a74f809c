// Package fetch implements the lightweight Fetcher: a plain HTTP GET with a
// realistic Chrome TLS fingerprint, proxy support, redirect following, and
// typed network errors bound to the closed ErrKind set. Any HTTP response
// (including non-2xx) surfaces its status/body/final-URL rather than an
// error; only a failure to obtain a response at all is an error.
package fetch

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	tls2 "github.com/refraction-networking/utls"
	"github.com/use-agent/adaptext/models"
	xproxy "golang.org/x/net/proxy"
)

const maxRedirects = 5
const maxBodyBytes = 10 * 1024 * 1024

// Result is the outcome of a successful GET (any HTTP status).
type Result struct {
	Status   int
	Body     []byte
	FinalURL string
}

// Options configures a single Fetch call. The deadline is carried by ctx,
// not by this struct.
type Options struct {
	Proxy     string
	UserAgent string
	Headers   map[string]string
}

// Fetcher performs GETs with a Chrome TLS fingerprint via utls.
type Fetcher struct {
	defaultProxy     string
	defaultUserAgent string
	insecureTLS      bool
}

// New creates a Fetcher with default proxy/user-agent settings, overridable
// per call. insecureTLS disables certificate validation and must stay false
// unless the deployment explicitly opts in.
func New(defaultProxy, defaultUserAgent string, insecureTLS bool) *Fetcher {
	return &Fetcher{defaultProxy: defaultProxy, defaultUserAgent: defaultUserAgent, insecureTLS: insecureTLS}
}

// Fetch retrieves targetURL. It returns a Result for any HTTP response
// (including 4xx/5xx) and a *models.ScrapeError with kind NETWORK only when
// no response could be obtained at all.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string, opts Options) (*Result, error) {
	proxy := opts.Proxy
	if proxy == "" {
		proxy = f.defaultProxy
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = f.defaultUserAgent
	}

	var proxyURL *url.URL
	if proxy != "" {
		var err error
		proxyURL, err = url.Parse(proxy)
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "malformed proxy URL", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, models.NewError(models.ErrConfiguration, "malformed target URL", err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, proxyURL, f.insecureTLS)
		},
	}
	// An https target must tunnel through the proxy inside DialTLSContext so
	// the utls handshake is the one the target sees. Transport.Proxy would
	// CONNECT and then run its own stdlib TLS over the tunnel, silently
	// bypassing the fingerprint, so it only routes plain-http targets.
	if proxyURL != nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") && req.URL.Scheme != "https" {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, models.NewError(models.ErrNetwork, fmt.Sprintf("request to %s failed", targetURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, models.NewError(models.ErrNetwork, "failed to read response body", err)
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Status:   resp.StatusCode,
		Body:     body,
		FinalURL: finalURL,
	}, nil
}

// dialTLSChrome establishes a TLS connection using a Chrome ClientHello
// fingerprint via utls, so sites that TLS-fingerprint before the HTTP layer
// ever runs see a realistic handshake instead of Go's default stdlib one.
// The raw transport underneath may be direct, SOCKS5, or an HTTP(S) CONNECT
// tunnel; in every case the target's handshake comes from utls.
func dialTLSChrome(ctx context.Context, network, addr string, proxyURL *url.URL, insecureTLS bool) (net.Conn, error) {
	rawConn, err := dialRaw(ctx, network, addr, proxyURL)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName:         host,
		InsecureSkipVerify: insecureTLS,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// dialRaw produces the TCP-level connection the utls handshake runs over:
// direct, through a SOCKS5 proxy, or tunneled through an HTTP(S) proxy via
// CONNECT.
func dialRaw(ctx context.Context, network, addr string, proxyURL *url.URL) (net.Conn, error) {
	dialer := &net.Dialer{}
	if proxyURL == nil {
		return dialer.DialContext(ctx, network, addr)
	}

	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if u := proxyURL.User; u != nil {
			pass, _ := u.Password()
			auth = &xproxy.Auth{User: u.Username(), Password: pass}
		}
		sd, err := xproxy.SOCKS5("tcp", proxyURL.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("fetch: socks5 proxy: %w", err)
		}
		if cd, ok := sd.(xproxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return sd.Dial(network, addr)
	case "http", "https":
		return connectViaProxy(ctx, dialer, proxyURL, addr)
	default:
		return dialer.DialContext(ctx, network, addr)
	}
}

// connectViaProxy opens a CONNECT tunnel to addr through an HTTP(S) proxy
// and returns the raw tunneled connection, TLS-untouched, for utls to
// handshake over.
func connectViaProxy(ctx context.Context, dialer *net.Dialer, proxyURL *url.URL, addr string) (net.Conn, error) {
	proxyAddr := proxyURL.Host
	if proxyURL.Port() == "" {
		port := "80"
		if proxyURL.Scheme == "https" {
			port = "443"
		}
		proxyAddr = net.JoinHostPort(proxyURL.Hostname(), port)
	}

	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("fetch: proxy dial: %w", err)
	}

	// An https:// proxy speaks TLS on its own hop; stdlib TLS is fine here,
	// the fingerprint only matters on the tunneled target handshake.
	if proxyURL.Scheme == "https" {
		tlsProxyConn := tls.Client(conn, &tls.Config{ServerName: proxyURL.Hostname()})
		if err := tlsProxyConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("fetch: proxy TLS handshake: %w", err)
		}
		conn = tlsProxyConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := proxyURL.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fetch: proxy CONNECT write: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("fetch: proxy CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("fetch: proxy CONNECT refused: %s", resp.Status)
	}
	if br.Buffered() > 0 {
		conn.Close()
		return nil, fmt.Errorf("fetch: proxy sent unexpected data after CONNECT")
	}
	return conn, nil
}
