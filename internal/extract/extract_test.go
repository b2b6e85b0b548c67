package extract

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

// buildMultipart assembles an RFC822 message with the given parts.
func buildMultipart(t *testing.T, subject string, parts []testPart) []byte {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.contentType)
		if p.disposition != "" {
			h.Set("Content-Disposition", p.disposition)
		}
		if p.encoding != "" {
			h.Set("Content-Transfer-Encoding", p.encoding)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: scot@tweenerfund.com\r\n")
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: Mon, 02 Jun 2025 10:30:00 -0400\r\n")
	fmt.Fprintf(&msg, "Message-ID: <abc123@mail.gmail.com>\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n", mw.Boundary())
	fmt.Fprintf(&msg, "\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes()
}

type testPart struct {
	contentType string
	disposition string
	encoding    string
	data        []byte
}

func TestMessage_PlainText(t *testing.T) {
	raw := []byte("From: scot@tweenerfund.com\r\n" +
		"Subject: Natryx May Update\r\n" +
		"Date: Mon, 02 Jun 2025 10:30:00 -0400\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"ARR is now $1.2M, runway 14 months.\r\n")

	c, err := Message(raw)
	require.NoError(t, err)
	assert.Equal(t, "Natryx May Update", c.Subject)
	assert.Empty(t, c.MessageID)
	assert.Equal(t, "scot@tweenerfund.com", c.Sender)
	assert.Equal(t, 2025, c.Date.Year())
	assert.Contains(t, c.Body, "$1.2M")
	assert.False(t, c.HasAttachments())
}

func TestMessage_EncodedSubject(t *testing.T) {
	raw := []byte("From: a@b.com\r\n" +
		"Subject: =?UTF-8?Q?Monthly_Update_=E2=80=94_May?=\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\nhello\r\n")

	c, err := Message(raw)
	require.NoError(t, err)
	assert.Equal(t, "Monthly Update — May", c.Subject)
}

func TestMessage_AttachmentByDisposition(t *testing.T) {
	raw := buildMultipart(t, "Q2 Update", []testPart{
		{contentType: "text/plain", data: []byte("See attached deck.")},
		{
			contentType: "application/octet-stream",
			disposition: `attachment; filename="deck.pdf"`,
			encoding:    "base64",
			data:        []byte(base64.StdEncoding.EncodeToString([]byte("not a real pdf"))),
		},
	})

	c, err := Message(raw)
	require.NoError(t, err)
	assert.Equal(t, "<abc123@mail.gmail.com>", c.MessageID)
	assert.Equal(t, "See attached deck.", strings.TrimSpace(c.Body))
	require.Len(t, c.Attachments, 1)
	a := c.Attachments[0]
	assert.Equal(t, "deck.pdf", a.Filename)
	assert.Equal(t, model.CategoryPDF, a.Category)
	assert.Equal(t, []byte("not a real pdf"), a.Data)
	// Corrupt PDF records a failure but does not abort the message.
	assert.Empty(t, a.Text)
	assert.NotEmpty(t, a.TextErr)
}

func TestMessage_AttachmentByContentTypeOnly(t *testing.T) {
	// No disposition, no filename: recognized content type alone must win.
	raw := buildMultipart(t, "metrics", []testPart{
		{contentType: "text/plain", data: []byte("body")},
		{contentType: "application/pdf", data: []byte("%PDF-fake")},
	})

	c, err := Message(raw)
	require.NoError(t, err)
	require.Len(t, c.Attachments, 1)
	assert.Equal(t, "attachment_1.pdf", c.Attachments[0].Filename)
	assert.Equal(t, model.CategoryPDF, c.Attachments[0].Category)
}

func TestMessage_AttachmentByBase64Application(t *testing.T) {
	raw := buildMultipart(t, "report", []testPart{
		{contentType: "text/plain", data: []byte("body")},
		{
			contentType: "application/x-unknown-format",
			encoding:    "base64",
			data:        []byte(base64.StdEncoding.EncodeToString([]byte("payload"))),
		},
	})

	c, err := Message(raw)
	require.NoError(t, err)
	require.Len(t, c.Attachments, 1)
	assert.Equal(t, []byte("payload"), c.Attachments[0].Data)
	assert.Equal(t, model.CategoryOther, c.Attachments[0].Category)
}

func TestMessage_InlineCSVDetected(t *testing.T) {
	raw := buildMultipart(t, "numbers", []testPart{
		{contentType: "text/plain", data: []byte("body")},
		{
			contentType: "text/csv",
			disposition: `inline; filename="arr.csv"`,
			data:        []byte("month,arr\nMay,$1.2M\n"),
		},
	})

	c, err := Message(raw)
	require.NoError(t, err)
	require.Len(t, c.Attachments, 1)
	a := c.Attachments[0]
	assert.Equal(t, "arr.csv", a.Filename)
	assert.Equal(t, model.CategoryCSV, a.Category)
	assert.Contains(t, a.Text, "$1.2M")
}

func TestMessage_HTMLFallbackBody(t *testing.T) {
	raw := buildMultipart(t, "html only", []testPart{
		{contentType: "text/html", data: []byte("<p>Revenue grew <b>15%</b> this month.</p>")},
	})

	c, err := Message(raw)
	require.NoError(t, err)
	assert.Contains(t, c.Body, "Revenue grew")
	assert.Contains(t, c.Body, "15%")
	assert.NotContains(t, c.Body, "<p>")
}

func TestMessage_PlainTextPreferredOverHTML(t *testing.T) {
	raw := buildMultipart(t, "both", []testPart{
		{contentType: "text/html", data: []byte("<p>html version</p>")},
		{contentType: "text/plain", data: []byte("plain version")},
	})

	c, err := Message(raw)
	require.NoError(t, err)
	assert.Equal(t, "plain version", strings.TrimSpace(c.Body))
}

func TestMessage_QuotedPrintableBody(t *testing.T) {
	raw := []byte("From: a@b.com\r\n" +
		"Subject: qp\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"ARR =3D $1.2M\r\n")

	c, err := Message(raw)
	require.NoError(t, err)
	assert.Contains(t, c.Body, "ARR = $1.2M")
}

func TestMessage_Garbage(t *testing.T) {
	_, err := Message([]byte("not an email at all"))
	require.Error(t, err)
}

func TestSources(t *testing.T) {
	c := &Content{
		Body: "body text",
		Attachments: []Attachment{
			{Filename: "deck.pdf", Text: "slide text"},
			{Filename: "broken.xlsx", TextErr: "open xlsx: bad zip"},
		},
	}
	sources := c.Sources()
	assert.Len(t, sources, 2)
	assert.Equal(t, "body text", sources[""])
	assert.Equal(t, "slide text", sources["deck.pdf"])
	_, ok := sources["broken.xlsx"]
	assert.False(t, ok)
}

func TestTruncateAtBoundary(t *testing.T) {
	long := strings.Repeat("metric line\n", 100)
	out := TruncateAtBoundary(long, 100)
	assert.LessOrEqual(t, len(out), 100)
	assert.True(t, strings.HasSuffix(out, "line"), "cut lands on a line boundary")

	short := "short"
	assert.Equal(t, short, TruncateAtBoundary(short, 100))

	// A cut that lands inside a multi-byte rune backs up to the rune start.
	accented := strings.Repeat("é", 60)
	out = TruncateAtBoundary(accented, 99)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 98, len(out))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		contentType string
		filename    string
		want        model.AttachmentCategory
	}{
		{"application/pdf", "x.bin", model.CategoryPDF},
		{"application/octet-stream", "report.xlsx", model.CategorySpreadsheet},
		{"application/octet-stream", "deck.pptx", model.CategoryPresentation},
		{"application/octet-stream", "mystery.xyz", model.CategoryOther},
		{"image/png", "chart.png", model.CategoryImage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorize(tt.contentType, tt.filename), "%s/%s", tt.contentType, tt.filename)
	}
}
