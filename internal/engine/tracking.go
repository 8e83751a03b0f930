package engine

import (
	"net/url"

	"github.com/autoguard/backend/internal/core"
)

// clickIDParams are the ad-network click identifiers. Presence of any one of
// them marks the request as paid-ad traffic for the referer layer.
var clickIDParams = []string{"gclid", "fbclid", "msclkid", "ttclid", "twclid", "click_id"}

var utmParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// ParseTracking extracts ad-tracking parameters from the request URL. A URL
// that fails to parse yields the zero value: no params, nothing to attribute.
func ParseTracking(rawURL string) core.TrackingParams {
	var tp core.TrackingParams
	u, err := url.Parse(rawURL)
	if err != nil {
		return tp
	}
	q := u.Query()

	tp.GclID = q.Get("gclid")
	tp.FbclID = q.Get("fbclid")
	tp.MsclkID = q.Get("msclkid")
	tp.TtclID = q.Get("ttclid")
	tp.TwclID = q.Get("twclid")
	tp.ClickID = q.Get("click_id")
	tp.Ref = q.Get("ref")
	tp.AffiliateID = q.Get("affiliate_id")

	for _, p := range utmParams {
		if v := q.Get(p); v != "" {
			if tp.UTM == nil {
				tp.UTM = make(map[string]string, len(utmParams))
			}
			tp.UTM[p] = v
		}
	}

	for _, p := range clickIDParams {
		if q.Get(p) != "" {
			tp.HasTrackingParams = true
			break
		}
	}
	return tp
}
