package server

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/view-count/internal/badge"
	"github.com/developingchet/view-count/internal/counter"
	"github.com/developingchet/view-count/internal/metrics"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>view-count</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 44rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
code, pre { background: #f4f4f4; border-radius: 3px; padding: .1rem .3rem; }
pre { padding: .6rem; overflow-x: auto; }
td { padding: .3rem .8rem .3rem 0; vertical-align: middle; }
</style>
</head>
<body>
<h1>view-count</h1>
<p>Embeddable page view and unique visitor counters.</p>

<h2>Endpoints</h2>
<ul>
<li><code>GET /views</code>: total page views</li>
<li><code>GET /visitors</code>: unique visitors</li>
</ul>
<p>The page is taken from the <code>Referer</code> header. Where it is stripped (GitHub READMEs, some mail clients) pass <code>?fallback-id=your-id</code>.</p>
<pre>&lt;img src="{{.Base}}/views" alt="views"&gt;
![visitors]({{.Base}}/visitors?fallback-id=my-repo&amp;color=blue)</pre>

<h2>Colours</h2>
<p>Pass <code>?color=</code> with a name below or a hex value such as <code>%23ff69b4</code>.</p>
<table>
{{range .Colors}}<tr><td><code>{{.Name}}</code></td><td><code>{{.Hex}}</code></td><td>{{.Preview}}</td></tr>
{{end}}</table>
</body>
</html>
`))

type indexColor struct {
	Name    badge.ColorName
	Hex     string
	Preview template.HTML
}

type indexData struct {
	Base   string
	Colors []indexColor
}

// renderIndex builds the landing page. Previews never touch the store.
func renderIndex(base string) ([]byte, error) {
	data := indexData{Base: base}
	for _, name := range badge.Names() {
		hex, _ := name.Hex()
		data.Colors = append(data.Colors, indexColor{
			Name: name,
			Hex:  hex,
			// Render escapes all text it embeds.
			Preview: template.HTML(counter.Preview(1234, counter.ModeViews, string(name))),
		})
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	page, err := renderIndex(scheme + "://" + r.Host)
	if err != nil {
		log.Error().Err(err).Msg("index render failed")
		http.Error(w, internalMessage, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func serveNotFound(w http.ResponseWriter, _ *http.Request) {
	metrics.RequestsRejected.WithLabelValues("not_found").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not found"))
}
