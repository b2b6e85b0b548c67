package extract

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jaytaylor/html2text"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

// maxBodyChars bounds the stored body text.
const maxBodyChars = 10000

// Content is the plain-text rendering of one inbound message: decoded
// headers, body text, and every detected attachment with its extracted text.
type Content struct {
	MessageID   string
	Subject     string
	Sender      string
	Date        time.Time
	Body        string
	Attachments []Attachment
}

// Attachment is one detected attachment part. Text is empty when the format
// is unsupported or extraction failed; TextErr carries the failure reason so
// the audit trail can record it without aborting the message.
type Attachment struct {
	Filename    string
	ContentType string
	Category    model.AttachmentCategory
	Data        []byte
	Text        string
	TextErr     string
}

// HasAttachments reports whether any attachment part was detected.
func (c *Content) HasAttachments() bool {
	return len(c.Attachments) > 0
}

// Sources returns the text blocks to run metric extraction over: the body
// plus each attachment that yielded text, keyed by source filename ("" for
// the body itself).
func (c *Content) Sources() map[string]string {
	out := make(map[string]string, 1+len(c.Attachments))
	if strings.TrimSpace(c.Body) != "" {
		out[""] = c.Body
	}
	for _, a := range c.Attachments {
		if a.Text != "" {
			out[a.Filename] = a.Text
		}
	}
	return out
}

// attachmentContentTypes are content types treated as attachments even when
// the sending server sets no disposition. Mail servers disagree on which
// signal they set; under-detection silently drops financial documents.
var attachmentContentTypes = map[string]model.AttachmentCategory{
	"application/pdf":                "pdf",
	"application/vnd.ms-excel":       "spreadsheet",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "spreadsheet",
	"application/vnd.ms-powerpoint":                                     "presentation",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "presentation",
	"application/msword": "document",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "document",
	"application/zip":             "archive",
	"application/x-zip-compressed": "archive",
	"application/octet-stream":    "other",
	"image/jpeg":                  "image",
	"image/png":                   "image",
	"image/gif":                   "image",
	"image/tiff":                  "image",
	"text/csv":                    "csv",
}

var extensionCategories = map[string]model.AttachmentCategory{
	".pdf":  "pdf",
	".xlsx": "spreadsheet",
	".xls":  "spreadsheet",
	".pptx": "presentation",
	".ppt":  "presentation",
	".docx": "document",
	".doc":  "document",
	".csv":  "csv",
	".zip":  "archive",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".gif":  "image",
	".tiff": "image",
}

var contentTypeExtensions = map[string]string{
	"application/pdf":          ".pdf",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"application/vnd.ms-powerpoint":                                     ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/csv":   ".csv",
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// Message parses raw RFC822 bytes into decoded text content with layered
// attachment detection. A single unparseable attachment never fails the
// message; its failure is recorded on the Attachment and processing goes on.
func Message(raw []byte) (*Content, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "extract: read message")
	}

	c := &Content{
		MessageID: msg.Header.Get("Message-ID"),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		Sender:    decodeHeader(msg.Header.Get("From")),
	}
	if d, err := msg.Header.Date(); err == nil {
		c.Date = d
	} else {
		c.Date = time.Now().UTC()
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		var htmlBody string
		walkMultipart(multipart.NewReader(msg.Body, params["boundary"]), c, &htmlBody)
		if c.Body == "" && htmlBody != "" {
			c.Body = htmlToText(htmlBody)
		}
	} else {
		handleSinglePart(msg, mediaType, c)
	}

	c.Body = truncate(c.Body, maxBodyChars)
	extractAttachmentText(c)
	return c, nil
}

// walkMultipart recursively walks MIME parts, collecting body text and
// attachments. The first text/plain part wins as body; HTML is kept as a
// fallback for plain-text-free messages.
func walkMultipart(mr *multipart.Reader, c *Content, htmlBody *string) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			zap.L().Debug("extract: multipart read stopped", zap.Error(err))
			return
		}

		contentType, params, ctErr := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if ctErr != nil {
			contentType = "application/octet-stream"
		}

		// Nested multipart (alternative, related, mixed).
		if strings.HasPrefix(contentType, "multipart/") && params["boundary"] != "" {
			walkMultipart(multipart.NewReader(part, params["boundary"]), c, htmlBody)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
		filename := partFilename(part.Header.Get("Content-Disposition"), params, part.FileName())

		if isAttachment(contentType, disposition, filename, encoding) {
			data, err := decodeBody(part, encoding)
			if err != nil {
				zap.L().Warn("extract: decode attachment part", zap.String("filename", filename), zap.Error(err))
				continue
			}
			name := filename
			if name == "" {
				name = syntheticFilename(contentType, len(c.Attachments)+1)
			}
			c.Attachments = append(c.Attachments, Attachment{
				Filename:    name,
				ContentType: contentType,
				Category:    categorize(contentType, name),
				Data:        data,
			})
			continue
		}

		switch contentType {
		case "text/plain":
			if c.Body == "" {
				if data, err := decodeBody(part, encoding); err == nil {
					c.Body = string(data)
				}
			}
		case "text/html":
			if *htmlBody == "" {
				if data, err := decodeBody(part, encoding); err == nil {
					*htmlBody = string(data)
				}
			}
		}
	}
}

func handleSinglePart(msg *mail.Message, mediaType string, c *Content) {
	encoding := strings.ToLower(strings.TrimSpace(msg.Header.Get("Content-Transfer-Encoding")))
	data, err := decodeReader(msg.Body, encoding)
	if err != nil {
		return
	}

	_, ctParams, _ := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	filename := partFilename(msg.Header.Get("Content-Disposition"), ctParams, "")

	if filename != "" || attachmentContentTypes[mediaType] != "" && mediaType != "application/octet-stream" {
		name := filename
		if name == "" {
			name = syntheticFilename(mediaType, 1)
		}
		c.Attachments = append(c.Attachments, Attachment{
			Filename:    name,
			ContentType: mediaType,
			Category:    categorize(mediaType, name),
			Data:        data,
		})
		return
	}

	if mediaType == "text/html" {
		c.Body = htmlToText(string(data))
		return
	}
	c.Body = string(data)
}

// isAttachment applies the layered detection policy. Any one signal marks
// the part an attachment; real-world mail servers disagree on which they set.
func isAttachment(contentType, disposition, filename, encoding string) bool {
	dispLower := strings.ToLower(disposition)

	// 1. Explicit attachment disposition.
	if strings.HasPrefix(dispLower, "attachment") {
		return true
	}
	// 2. Disposition mentions attachment anywhere.
	if strings.Contains(dispLower, "attachment") {
		return true
	}
	// 3. A filename is a strong indicator on its own.
	if strings.TrimSpace(filename) != "" {
		return true
	}
	// 4. Recognized attachment content type.
	if _, ok := attachmentContentTypes[contentType]; ok {
		return true
	}
	// 5. Inline part with a document extension.
	if strings.Contains(dispLower, "inline") && filename != "" {
		if _, ok := extensionCategories[strings.ToLower(filepath.Ext(filename))]; ok {
			return true
		}
	}
	// 6. Base64-encoded application payload.
	if strings.HasPrefix(contentType, "application/") && encoding == "base64" {
		return true
	}

	return false
}

// partFilename resolves a part's filename from the disposition params, the
// content-type name param, or the pre-parsed value, RFC2047-decoding it.
func partFilename(disposition string, ctParams map[string]string, parsed string) string {
	name := parsed
	if name == "" && disposition != "" {
		if _, dp, err := mime.ParseMediaType(disposition); err == nil {
			name = dp["filename"]
		}
	}
	if name == "" && ctParams != nil {
		name = ctParams["name"]
	}
	name = decodeHeader(name)
	return strings.Trim(strings.TrimSpace(name), `"'`)
}

func syntheticFilename(contentType string, n int) string {
	ext, ok := contentTypeExtensions[contentType]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("attachment_%d%s", n, ext)
}

// categorize picks the attachment category from content type, falling back
// to the filename extension for generic types like octet-stream.
func categorize(contentType, filename string) model.AttachmentCategory {
	if cat, ok := attachmentContentTypes[contentType]; ok && cat != model.CategoryOther {
		return cat
	}
	if cat, ok := extensionCategories[strings.ToLower(filepath.Ext(filename))]; ok {
		return cat
	}
	return model.CategoryOther
}

// extractAttachmentText runs per-format text extraction over each detected
// attachment. Unsupported formats are skipped silently; extraction errors
// are recorded on the attachment and never abort the message.
func extractAttachmentText(c *Content) {
	for i := range c.Attachments {
		a := &c.Attachments[i]
		var text string
		var err error

		switch a.Category {
		case model.CategoryPDF:
			text, err = PDFText(a.Data)
		case model.CategorySpreadsheet:
			text, err = XLSXText(a.Data)
		case model.CategoryPresentation:
			text, err = PPTXText(a.Data)
		case model.CategoryCSV:
			text = string(a.Data)
		default:
			continue
		}

		if err != nil {
			a.TextErr = err.Error()
			zap.L().Warn("extract: attachment text extraction failed",
				zap.String("filename", a.Filename),
				zap.Error(err),
			)
			continue
		}
		a.Text = text
	}
}

func decodeBody(part *multipart.Part, encoding string) ([]byte, error) {
	return decodeReader(part, encoding)
}

func decodeReader(r io.Reader, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newWhitespaceStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "extract: decode part body")
	}
	return data, nil
}

// whitespaceStripper filters CR/LF out of base64 streams before decoding.
type whitespaceStripper struct {
	r io.Reader
}

func newWhitespaceStripper(r io.Reader) io.Reader {
	return &whitespaceStripper{r: r}
}

func (w *whitespaceStripper) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n == 0 {
		return n, err
	}
	kept := 0
	for _, b := range p[:n] {
		if b == '\r' || b == '\n' || b == ' ' || b == '\t' {
			continue
		}
		p[kept] = b
		kept++
	}
	return kept, err
}

var headerDecoder = mime.WordDecoder{}

func decodeHeader(s string) string {
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func htmlToText(html string) string {
	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		return html
	}
	return text
}

// truncate cuts s to at most n bytes, never mid-rune, backing up to the
// previous newline when one is reasonably close so structured blocks are not
// cut mid-line.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, '\n'); idx > n/2 {
		cut = cut[:idx]
	}
	return cut
}

// TruncateAtBoundary bounds text for model prompts, cutting on a line
// boundary where possible so tabular attachment blocks stay intact.
func TruncateAtBoundary(s string, n int) string {
	return truncate(s, n)
}
