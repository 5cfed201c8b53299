package portal

import "html/template"

type pageData struct {
	DeviceSSID string
	StoredSSID string
	Networks   []networkOption
	Error      string
	Success    bool
	SSID       string
	IP         string
}

type networkOption struct {
	SSID   string
	Signal int
}

var formTemplate = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.DeviceSSID}} setup</title></head>
<body>
<h1>Wi-Fi setup</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST" action="/save">
<label>Network <input name="ssid" list="networks" value="{{.StoredSSID}}"></label>
<datalist id="networks">
{{range .Networks}}<option value="{{.SSID}}">{{.SSID}} ({{.Signal}}%)</option>
{{end}}</datalist>
<label>Password <input name="password" type="password"></label>
<button type="submit">Save</button>
</form>
<ul>
{{range .Networks}}<li>{{.SSID}} ({{.Signal}}%)</li>
{{else}}<li>No networks found</li>
{{end}}</ul>
</body>
</html>
`))

var resultTemplate = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.DeviceSSID}} setup</title></head>
<body>
{{if .Success}}<h1>Connected</h1>
<p>Joined {{.SSID}}. Device address: <strong>{{.IP}}</strong></p>
<p>This access point closes in a few seconds.</p>
{{else}}<h1>Connection failed</h1>
<p class="error">{{.Error}}</p>
<p><a href="/">Try again</a></p>
{{end}}</body>
</html>
`))
