package mail

import (
	"bytes"
	"fmt"
	"text/template"
)

var subjectTemplates = map[string]string{
	"new-account-info":     `Welcome to {{.AppTitle}}`,
	"cert-expires-warning": `Certificate for {{index .Domains 0}} expires in {{.ExpiresInDays}} days`,
	"cert-expired-info":    `Certificate for {{index .Domains 0}} has expired`,
}

var bodyTemplates = map[string]string{
	"new-account-info": `<p>Your ACME account at {{.AppTitle}} ({{.WebURL}}) has been created.</p>
<p>Directory URL: <a href="{{.AcmeURL}}">{{.AcmeURL}}</a></p>`,

	"cert-expires-warning": `<p>The certificate with serial {{.SerialNumber}} for the following domains will expire on {{.ExpiresAt}} ({{.ExpiresInDays}} days from now):</p>
<ul>{{range .Domains}}<li>{{.}}</li>{{end}}</ul>
<p>Please renew it before it expires.</p>`,

	"cert-expired-info": `<p>The certificate with serial {{.SerialNumber}} for the following domains expired on {{.ExpiresAt}}:</p>
<ul>{{range .Domains}}<li>{{.}}</li>{{end}}</ul>`,
}

func renderSubject(name string, vars map[string]any) (string, error) {
	tpl, ok := subjectTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown mail template %q", name)
	}
	return renderText(name+"/subject", tpl, vars)
}

func renderBody(name string, vars map[string]any) (string, error) {
	tpl, ok := bodyTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown mail template %q", name)
	}
	return renderText(name+"/body", tpl, vars)
}

func renderText(name, tpl string, vars map[string]any) (string, error) {
	t, err := template.New(name).Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
