package server

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/grovetools/remote-panel/command"
	"github.com/grovetools/remote-panel/errors"
)

// previewHosts are the manifest hosts the proxy will dial.
var previewHosts = map[string]bool{
	"127.0.0.1": true,
	"localhost": true,
	"::1":       true,
	"0.0.0.0":   true,
}

// handlePreview proxies /preview/{id}/rest to the dev server named by the
// manifest {id}. Only local dev servers are reachable.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if command.ValidateManifestID(id) != nil {
		writeError(w, nil, errors.InvalidInput("Invalid preview id"))
		return
	}
	m := s.rt.Discovery.Manifest(id)
	if m == nil {
		writeError(w, nil, errors.NotFound("Preview manifest"))
		return
	}
	host := strings.Trim(strings.ToLower(m.Host), "[]")
	if !previewHosts[host] {
		writeError(w, nil, errors.New(errors.ErrCodeForbidden, "Preview proxy only supports local dev hosts."))
		return
	}
	if m.Port == nil || *m.Port <= 0 || *m.Port > 65535 {
		writeError(w, nil, errors.InvalidInput("Preview target port is invalid."))
		return
	}
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	target := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(*m.Port))}
	prefix := "/preview/" + url.PathEscape(id)
	forward := "/" + chi.URLParam(r, "*")

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = forward
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = r.URL.RawQuery
			pr.Out.Host = target.Host
			pr.Out.Header.Del("Cookie")
		},
		ModifyResponse: func(resp *http.Response) error {
			if loc := resp.Header.Get("Location"); loc != "" {
				resp.Header.Set("Location", rewriteLocation(loc, target, prefix))
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			s.logger.WithError(err).WithField("preview", id).Debug("Preview proxy failed")
			writeError(w, nil, errors.InvalidInput("Preview connection failed: %v", err))
		},
	}
	proxy.ServeHTTP(w, r)
}

// rewriteLocation maps redirects that resolve to the dev server back under
// the preview prefix. Other locations pass through unchanged.
func rewriteLocation(loc string, target *url.URL, prefix string) string {
	ref, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	u := target.ResolveReference(ref)
	if u.Host != target.Host {
		return loc
	}
	out := prefix + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
