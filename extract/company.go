// Package extract parses a rendered company profile page into a record.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/harvest/models"
)

// Selectors are compiled once; the page layout is fixed.
var (
	selName          = cascadia.MustCompile("h2.pp-overview__title")
	selNameSpan      = cascadia.MustCompile("span")
	selOverviewItem  = cascadia.MustCompile("div.pp-overview-item")
	selOverviewLabel = cascadia.MustCompile("li.dont-break.text-small")
	selOverviewValue = cascadia.MustCompile("span.pp-overview-item__title")
	selDescription   = cascadia.MustCompile("p.pp-description_text")
	selWebsite       = cascadia.MustCompile("a.d-block-XL.font-underline")
	selContactItem   = cascadia.MustCompile("div.pp-contact-info_item")
	selContactLabel  = cascadia.MustCompile("div.font-weight-bold.font-color-black")
	selContactValue  = cascadia.MustCompile("div.font-weight-normal.font-color-black.ellipsis-XL")
	selVerticalLink  = cascadia.MustCompile("a.font-underline")
	selAddressLines  = cascadia.MustCompile("ul.list-type-none.XL-12 li")
)

// Func is the extraction contract used by the attempt loop: a populated
// record, or false when the page yields nothing.
type Func func(markup, url string) (*models.Company, bool)

// Company extracts a profile record from markup. It returns false when the
// page carries no company name, which the caller treats as a failed
// extraction rather than a missing page.
func Company(markup, url string) (*models.Company, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, false
	}

	name := companyName(doc.Selection)
	if name == "" {
		return nil, false
	}
	c := &models.Company{Name: name, URL: url}

	doc.FindMatcher(selOverviewItem).Each(func(_ int, item *goquery.Selection) {
		label := item.FindMatcher(selOverviewLabel).First()
		value := item.FindMatcher(selOverviewValue).First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		v := text(value)
		switch l := strings.ToLower(text(label)); {
		case strings.Contains(l, "founded"):
			c.Founded = &v
		case strings.Contains(l, "status"):
			c.Status = &v
		case strings.Contains(l, "latest deal type"):
			c.LatestDealType = &v
		case strings.Contains(l, "financing rounds"):
			c.FinancingRounds = &v
		}
	})

	c.Description = optional(doc.FindMatcher(selDescription).First())
	if href, ok := doc.FindMatcher(selWebsite).First().Attr("href"); ok {
		c.Website = &href
	}

	doc.FindMatcher(selContactItem).Each(func(_ int, item *goquery.Selection) {
		parseContactItem(c, item)
	})

	doc.FindMatcher(selAddressLines).Each(func(_ int, li *goquery.Selection) {
		c.Address = append(c.Address, text(li))
	})

	return c, true
}

func companyName(root *goquery.Selection) string {
	h2 := root.FindMatcher(selName).First()
	if h2.Length() == 0 {
		return ""
	}
	if span := h2.FindMatcher(selNameSpan).First(); span.Length() > 0 {
		return text(span)
	}
	return text(h2)
}

// parseContactItem reads one labelled block of the contact-info panel. The
// values are the label's following siblings.
func parseContactItem(c *models.Company, item *goquery.Selection) {
	label := item.FindMatcher(selContactLabel).First()
	if label.Length() == 0 {
		return
	}
	values := label.NextAllMatcher(selContactValue)
	first := values.First()

	switch l := strings.ToLower(text(label)); {
	case strings.Contains(l, "ownership status") && values.Length() > 0:
		c.OwnershipStatus = optional(first)
	case strings.Contains(l, "financing status") && values.Length() > 0:
		c.FinancingStatus = optional(first)
	case strings.Contains(l, "primary industry") && values.Length() > 0:
		c.PrimaryIndustry = optional(first)
	case strings.Contains(l, "parent company") && values.Length() > 0:
		c.ParentCompany = optional(first)
	case strings.Contains(l, "vertical"):
		item.FindMatcher(selVerticalLink).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			c.Verticals = append(c.Verticals, models.Vertical{Name: text(a), URL: href})
		})
	case strings.Contains(l, "other industries"):
		values.Each(func(_ int, v *goquery.Selection) {
			if t := text(v); t != "" {
				c.OtherIndustries = append(c.OtherIndustries, t)
			}
		})
	}
}

// text returns the selection's text with whitespace runs collapsed.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func optional(s *goquery.Selection) *string {
	if s.Length() == 0 {
		return nil
	}
	t := text(s)
	return &t
}
