package handshake

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	texttemplate "text/template"
	"time"
)

var codeEmailHTML = htmltemplate.Must(htmltemplate.New("code.html").Parse(`<!doctype html>
<html>
  <body style="font-family: sans-serif">
    <p>Hi{{if .DisplayName}} {{.DisplayName}}{{end}},</p>
    <p>Use this code to finish signing in:</p>
    <p style="font-size: 28px; letter-spacing: 6px"><strong>{{.Code}}</strong></p>
    <p>It expires in {{.Minutes}} minutes. If you did not try to sign in, you can ignore this email.</p>
  </body>
</html>
`))

var codeEmailText = texttemplate.Must(texttemplate.New("code.txt").Parse(`Hi{{if .DisplayName}} {{.DisplayName}}{{end}},

Use this code to finish signing in: {{.Code}}

It expires in {{.Minutes}} minutes. If you did not try to sign in, you can ignore this email.
`))

type codeEmailView struct {
	DisplayName string
	Code        string
	Minutes     string
}

type defaultCodeRenderer struct{}

func (defaultCodeRenderer) Render(data CodeEmail) (Message, error) {
	view := codeEmailView{
		DisplayName: data.DisplayName,
		Code:        data.Code,
		Minutes:     strconv.Itoa(int((data.ExpiresIn + time.Minute - 1) / time.Minute)),
	}

	var html, text bytes.Buffer
	if err := codeEmailHTML.Execute(&html, view); err != nil {
		return Message{}, err
	}
	if err := codeEmailText.Execute(&text, view); err != nil {
		return Message{}, err
	}

	return Message{
		To:      data.To,
		Subject: data.Subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
