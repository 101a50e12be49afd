package http

import (
	"html/template"
	"net/http"
)

var verifyPage = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{if .OK}}Email verified{{else}}Verification failed{{end}}</title>
<style>
body { font-family: sans-serif; max-width: 32rem; margin: 4rem auto; text-align: center; }
.ok { color: #1a7f37; }
.fail { color: #cf222e; }
</style>
</head>
<body>
<h1 class="{{if .OK}}ok{{else}}fail{{end}}">{{if .OK}}Email verified{{else}}Verification failed{{end}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

func writeVerifyPage(w http.ResponseWriter, status int, ok bool, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = verifyPage.Execute(w, struct {
		OK      bool
		Message string
	}{ok, message})
}
