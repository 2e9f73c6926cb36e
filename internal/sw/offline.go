package sw

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

const offlineDocument = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Offline</title>
  <style>
    body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #0f0f0f; color: #fff; }
    .container { text-align: center; padding: 2rem; }
    h1 { margin: 0 0 1rem; }
    p { color: #888; }
    a { color: #ff0000; text-decoration: none; }
    a:hover { text-decoration: underline; }
  </style>
</head>
<body>
  <div class="container">
    <h1>You're offline</h1>
    <p>This page isn't available offline yet.</p>
    <p>Visit this page while online to cache it.</p>
    <p><a href="/">Go to Home</a></p>
  </div>
</body>
</html>
`

const offlineContentType = "text/html; charset=utf-8"

// OfflineResponse is served when neither the cache nor the network can
// answer. It is a 200 HTML document whatever was requested.
func OfflineResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", offlineContentType)
	header.Set("Content-Length", strconv.Itoa(len(offlineDocument)))

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(offlineDocument))),
		ContentLength: int64(len(offlineDocument)),
		Request:       req,
	}
}
