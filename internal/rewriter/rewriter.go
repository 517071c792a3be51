// Package rewriter personalises campaign content and injects open and click
// tracking into HTML bodies.
package rewriter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"talentmail/internal/config"
	"talentmail/internal/models"
	"talentmail/internal/utils"
	"talentmail/internal/utils/logger"
)

var (
	bodyTagRe = regexp.MustCompile(`(?i)<body[\s>/]`)
	htmlTagRe = regexp.MustCompile(`(?i)<html[\s>/]`)
)

// ConversionStore persists tracking conversions as they are minted
type ConversionStore interface {
	CreateURLConversion(ctx context.Context, conversion *models.URLConversion) error
}

// Content is the campaign content before personalisation
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Options controls which rewrites apply to a send
type Options struct {
	OpenTracking  bool
	ClickTracking bool
	// QueryParams are appended to every click tracking URL
	QueryParams map[string]string
	CustomHTML  string
}

// Result is the final content of one send plus the conversions created for it
type Result struct {
	Subject     string
	HTML        string
	Text        string
	Conversions []*models.URLConversion
}

type Rewriter struct {
	store    ConversionStore
	baseURL  string
	secret   string
	pixelURL string
	log      *logger.Logger
}

func New(store ConversionStore, cfg config.TrackingConfig) *Rewriter {
	return &Rewriter{
		store:    store,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		secret:   cfg.Secret,
		pixelURL: cfg.PixelURL,
		log:      logger.New("REWRITER"),
	}
}

// Rewrite renders content for one recipient of the send identified by sendID
func (r *Rewriter) Rewrite(ctx context.Context, content Content, rcpt *Recipient, sendID string, opts Options) (*Result, error) {
	res := &Result{
		Subject: MergeTags(content.Subject, rcpt),
		Text:    MergeTags(content.Text, rcpt),
	}

	htmlIn := MergeTags(content.HTML, rcpt)
	if strings.TrimSpace(htmlIn) == "" || (!opts.OpenTracking && !opts.ClickTracking && opts.CustomHTML == "") {
		res.HTML = htmlIn
		return res, nil
	}

	doc, err := html.Parse(strings.NewReader(htmlIn))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	if opts.OpenTracking {
		if err := r.trackOpen(ctx, doc, sendID, res); err != nil {
			return nil, err
		}
	}
	if opts.ClickTracking {
		if err := r.trackClicks(ctx, doc, sendID, opts.QueryParams, res); err != nil {
			return nil, err
		}
	}
	if opts.CustomHTML != "" {
		r.injectCustomHTML(doc, htmlIn, opts.CustomHTML)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	res.HTML = buf.String()
	return res, nil
}

func (r *Rewriter) trackOpen(ctx context.Context, doc *html.Node, sendID string, res *Result) error {
	if img := findFirst(doc, atom.Img); img != nil {
		trackURL, err := r.mint(ctx, sendID, models.ConversionOpen, getAttr(img, "src"), nil, res)
		if err != nil {
			return err
		}
		setAttr(img, "src", trackURL)
		return nil
	}

	trackURL, err := r.mint(ctx, sendID, models.ConversionOpen, r.pixelURL, nil, res)
	if err != nil {
		return err
	}
	pixel := &html.Node{
		Type:     html.ElementNode,
		Data:     "img",
		DataAtom: atom.Img,
		Attr: []html.Attribute{
			{Key: "src", Val: trackURL},
			{Key: "width", Val: "1"},
			{Key: "height", Val: "1"},
			{Key: "alt", Val: ""},
			{Key: "style", Val: "display:none"},
		},
	}
	parent := findFirst(doc, atom.Body)
	if parent == nil {
		parent = doc
	}
	parent.InsertBefore(pixel, parent.FirstChild)
	return nil
}

func (r *Rewriter) trackClicks(ctx context.Context, doc *html.Node, sendID string, params map[string]string, res *Result) error {
	var anchors []*html.Node
	walk(doc, func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasAttr(n, "href") {
			anchors = append(anchors, n)
		}
	})

	for _, a := range anchors {
		trackURL, err := r.mint(ctx, sendID, models.ConversionHTMLClick, getAttr(a, "href"), params, res)
		if err != nil {
			return err
		}
		setAttr(a, "href", trackURL)
	}
	return nil
}

// injectCustomHTML appends raw markup to <body>, or to <html> when the source
// had no body tag
func (r *Rewriter) injectCustomHTML(doc *html.Node, source, custom string) {
	var target *html.Node
	switch {
	case bodyTagRe.MatchString(source):
		target = findFirst(doc, atom.Body)
	case htmlTagRe.MatchString(source):
		target = findFirst(doc, atom.Html)
		r.log.Warn("campaign html has no <body>, injecting custom html into <html>")
	}
	if target == nil {
		r.log.Error("campaign html has neither <body> nor <html>, custom html skipped", nil)
		return
	}

	parent := findFirst(doc, atom.Body)
	if parent == nil {
		parent = target
	}
	nodes, err := html.ParseFragment(strings.NewReader(custom), parent)
	if err != nil {
		r.log.Error("failed to parse custom html", err)
		return
	}
	for _, n := range nodes {
		target.AppendChild(n)
	}
}

func (r *Rewriter) mint(ctx context.Context, sendID string, kind models.ConversionKind, destination string, params map[string]string, res *Result) (string, error) {
	conversion := &models.URLConversion{
		Base:        models.Base{ID: uuid.NewString()},
		SendID:      sendID,
		Kind:        kind,
		Destination: destination,
	}
	if err := r.store.CreateURLConversion(ctx, conversion); err != nil {
		return "", fmt.Errorf("failed to create url conversion: %w", err)
	}
	res.Conversions = append(res.Conversions, conversion)
	return r.TrackingURL(conversion.ID, params)
}

// TrackingURL builds the public redirect URL for a conversion
func (r *Rewriter) TrackingURL(conversionID string, params map[string]string) (string, error) {
	q := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}

	if r.secret != "" {
		token, err := utils.SignTrackingToken(r.secret, utils.TrackingClaims{ConversionID: conversionID})
		if err != nil {
			return "", err
		}
		q.Set("token", token)
	}

	u := fmt.Sprintf("%s/redirect/%s", r.baseURL, url.PathEscape(conversionID))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
