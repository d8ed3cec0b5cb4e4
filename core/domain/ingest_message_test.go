package domain

import "testing"

func TestBodyStripsHTML(t *testing.T) {
	msg := &CanonicalMessage{
		HTMLBody: `<div><p>hello</p><blockquote>old quoted history</blockquote></div>`,
	}
	if got := msg.Body(); got != "hello" {
		t.Errorf("Body() = %q, want %q", got, "hello")
	}
}

func TestBodyDropsScriptAndStyle(t *testing.T) {
	msg := &CanonicalMessage{
		HTMLBody: `<html><head><style>p { color: red }</style></head>` +
			`<body><script>alert(1)</script><p>meeting at  three</p></body></html>`,
	}
	if got := msg.Body(); got != "meeting at three" {
		t.Errorf("Body() = %q, want %q", got, "meeting at three")
	}
}

func TestBodyDropsGmailQuote(t *testing.T) {
	msg := &CanonicalMessage{
		HTMLBody: `<div>sounds good</div><div class="gmail_quote">On Mon someone wrote: earlier text</div>`,
	}
	if got := msg.Body(); got != "sounds good" {
		t.Errorf("Body() = %q, want %q", got, "sounds good")
	}
}

func TestBodyCollapsesQuotedTextLines(t *testing.T) {
	msg := &CanonicalMessage{
		TextBody: "agreed, see you then\n> when do we meet?\n> thursday?",
	}
	if got := msg.Body(); got != "agreed, see you then" {
		t.Errorf("Body() = %q, want quoted lines dropped", got)
	}
}

func TestBodyFallsBackToHTMLWhenTextAllQuoted(t *testing.T) {
	msg := &CanonicalMessage{
		TextBody: "> only quoted history here",
		HTMLBody: "<p>the actual reply</p>",
	}
	if got := msg.Body(); got != "the actual reply" {
		t.Errorf("Body() = %q, want HTML fallback", got)
	}
}

func TestIsEmptyAfterStrip(t *testing.T) {
	tests := []struct {
		name string
		msg  CanonicalMessage
		want bool
	}{
		{"plain text", CanonicalMessage{TextBody: "hi"}, false},
		{"html with content", CanonicalMessage{HTMLBody: "<p>hi</p>"}, false},
		{"tag-only html", CanonicalMessage{HTMLBody: "<div><br/></div>"}, true},
		{"quoted history only", CanonicalMessage{HTMLBody: "<blockquote>old</blockquote>"}, true},
		{"subject but no body", CanonicalMessage{Subject: "ping"}, true},
		{"nothing at all", CanonicalMessage{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsReply(t *testing.T) {
	tests := []struct {
		name string
		msg  CanonicalMessage
		want bool
	}{
		{"re prefix", CanonicalMessage{Subject: "Re: budget"}, true},
		{"uppercase prefix", CanonicalMessage{Subject: "RE: budget"}, true},
		{"localized prefix", CanonicalMessage{Subject: "AW: Budget"}, true},
		{"leading whitespace", CanonicalMessage{Subject: "  re: budget"}, true},
		{"prefix without colon", CanonicalMessage{Subject: "Reminder: budget"}, false},
		{"fresh subject", CanonicalMessage{Subject: "budget"}, false},
		{"threading header backstop", CanonicalMessage{Subject: "budget", InReplyTo: "<id@x>"}, true},
		{"references backstop", CanonicalMessage{References: "<a@x> <b@x>"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsReply(); got != tt.want {
				t.Errorf("IsReply() = %v, want %v", got, tt.want)
			}
		})
	}
}
