package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/miekg/dns"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/engine"
)

// VerificationToken derives the domain-control token for an offer. It is
// deterministic, so re-running verification never invalidates a DNS record
// the user already published.
func VerificationToken(subdomain, salt string) string {
	sum := sha256.Sum256([]byte(subdomain + salt))
	tok := base64.StdEncoding.EncodeToString(sum[:])
	tok = strings.NewReplacer("+", "", "/", "", "=", "").Replace(tok)
	if len(tok) > 12 {
		tok = tok[:12]
	}
	return tok
}

// TXTResolver answers DNS TXT queries for domain-control checks.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSResolver queries one upstream resolver directly instead of trusting
// the host's stub resolver cache; verification wants fresh records.
type DNSResolver struct {
	server string
	client *dns.Client
}

func NewDNSResolver(server string) *DNSResolver {
	if server == "" {
		server = "1.1.1.1:53"
	}
	return &DNSResolver{server: server, client: &dns.Client{Timeout: dnsTimeout}}
}

func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, core.Transientf(err, "txt lookup %s", name)
	}
	if in.Rcode == dns.RcodeNameError {
		return nil, nil // NXDOMAIN: the record simply is not there
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, core.Transientf(nil, "txt lookup %s: rcode %s", name, dns.RcodeToString[in.Rcode])
	}

	var out []string
	for _, rr := range in.Answer {
		if t, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	return out, nil
}

// HandleDomainVerification runs both ownership checks for an offer's custom
// domain: the _autoguard TXT record must carry the offer's token AND the
// domain must serve the ping path over HTTPS. Both verdicts are business
// outcomes, so the job completes either way; only infrastructure errors
// reach the retry policy.
func (h *Handlers) HandleDomainVerification(ctx context.Context, payload string) error {
	var job VerifyDomainJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return core.Validationf("malformed domain-verify job: %v", err)
	}
	if job.OfferID == 0 {
		return core.Validationf("domain-verify job missing offerId")
	}

	offer, err := h.store.GetOffer(ctx, job.OfferID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Validationf("offer %d no longer exists", job.OfferID)
		}
		return err
	}
	if offer.CustomDomain == "" {
		return core.Validationf("offer %d has no custom domain", job.OfferID)
	}

	dnsOK, dnsDetail := h.checkTXT(ctx, offer)
	httpOK, httpDetail := h.checkPing(ctx, offer.CustomDomain)

	if dnsOK && httpOK {
		if err := h.store.SetDomainVerified(ctx, offer.ID); err != nil {
			return err
		}
		h.refreshRouting(ctx, offer.ID)
		h.logger.Info("Custom domain verified", "offerId", offer.ID, "domain", offer.CustomDomain)
		return nil
	}

	detail := verificationDetail(dnsOK, dnsDetail, httpOK, httpDetail)
	if err := h.store.SetDomainFailed(ctx, offer.ID, detail); err != nil {
		return err
	}
	rt := engine.RoutingFromOffer(offer)
	rt.CustomDomain = offer.CustomDomain // drop the byDomain key a previous verification may have left
	if err := h.routing.Invalidate(ctx, rt); err != nil {
		h.logger.Warn("Routing invalidation failed", "offerId", offer.ID, "error", err)
	}
	h.logger.Warn("Custom domain verification failed",
		"offerId", offer.ID, "domain", offer.CustomDomain, "detail", detail)
	return nil
}

// verificationDetail flattens the per-check verdicts into the failure reason
// stored on the offer row.
func verificationDetail(dnsOK bool, dnsDetail string, httpOK bool, httpDetail string) string {
	var parts []string
	if !dnsOK {
		parts = append(parts, "dns: "+dnsDetail)
	}
	if !httpOK {
		parts = append(parts, "http: "+httpDetail)
	}
	return truncate(strings.Join(parts, "; "), 500)
}

// checkTXT looks for ag-verify=<token> in the _autoguard TXT record set.
func (h *Handlers) checkTXT(ctx context.Context, offer *core.Offer) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	name := "_autoguard." + offer.CustomDomain
	records, err := h.resolver.LookupTXT(ctx, name)
	if err != nil {
		return false, fmt.Sprintf("txt lookup failed: %v", err)
	}

	expected := "ag-verify=" + offer.CustomDomainToken
	for _, r := range records {
		if strings.TrimSpace(r) == expected {
			return true, ""
		}
	}
	return false, fmt.Sprintf("no %s record at %s", expected, name)
}

// checkPing requires the domain to serve /__autoguard/ping with body "ok",
// proving traffic for the domain reaches an edge that routes to us.
func (h *Handlers) checkPing(ctx context.Context, domain string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	pingURL := "https://" + domain + "/__autoguard/ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
	if err != nil {
		return false, fmt.Sprintf("build ping request: %v", err)
	}

	resp, err := h.pinger.Do(req)
	if err != nil {
		return false, fmt.Sprintf("ping failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Sprintf("ping returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Sprintf("read ping body: %v", err)
	}
	if got := strings.TrimSpace(string(body)); got != "ok" {
		return false, fmt.Sprintf("ping body %q", truncate(got, 32))
	}
	return true, ""
}

// refreshRouting rewrites the offer's routing keys from its fresh row so the
// verified domain resolves without waiting for a cache miss.
func (h *Handlers) refreshRouting(ctx context.Context, offerID int64) {
	offer, err := h.store.GetOffer(ctx, offerID)
	if err != nil {
		h.logger.Warn("Routing refresh read failed", "offerId", offerID, "error", err)
		return
	}
	if err := h.routing.Backfill(ctx, engine.RoutingFromOffer(offer)); err != nil {
		h.logger.Warn("Routing backfill failed", "offerId", offerID, "error", err)
	}
}
