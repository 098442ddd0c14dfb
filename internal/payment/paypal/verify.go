package paypal

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// Transmission headers PayPal attaches to every webhook delivery.
const (
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
)

const supportedAlgo = "SHA256withRSA"

// CertFetcher downloads the PEM certificate chain at certURL, leaf first.
type CertFetcher func(ctx context.Context, certURL string) ([]*x509.Certificate, error)

type cachedChain struct {
	leaf    *x509.Certificate
	expires time.Time
}

// verifier checks webhook transmissions offline against PayPal's signing
// certificate.
type verifier struct {
	webhookID string
	hosts     map[string]struct{}
	roots     *x509.CertPool
	fetch     CertFetcher
	ttl       time.Duration
	now       func() time.Time

	mu    sync.Mutex
	certs map[string]cachedChain
}

func newVerifier(webhookID string, hosts []string, ttl time.Duration, fetch CertFetcher) *verifier {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = struct{}{}
		}
	}
	return &verifier{
		webhookID: webhookID,
		hosts:     allowed,
		fetch:     fetch,
		ttl:       ttl,
		now:       time.Now,
		certs:     make(map[string]cachedChain),
	}
}

func (v *verifier) verify(ctx context.Context, body []byte, headers http.Header) error {
	transmissionID := headers.Get(HeaderTransmissionID)
	transmissionTime := headers.Get(HeaderTransmissionTime)
	signature := headers.Get(HeaderTransmissionSig)
	certURL := headers.Get(HeaderCertURL)
	if transmissionID == "" || transmissionTime == "" || signature == "" || certURL == "" {
		return errorbank.SignatureInvalid("missing paypal transmission headers")
	}
	if algo := headers.Get(HeaderAuthAlgo); algo != "" && algo != supportedAlgo {
		return errorbank.SignatureInvalid("unsupported paypal signature algorithm", errorbank.WithDetail("algo", algo))
	}
	if v.webhookID == "" {
		return errorbank.SignatureInvalid("paypal webhook id is not configured")
	}
	if err := v.checkCertURL(certURL); err != nil {
		return err
	}

	leaf, err := v.certificate(ctx, certURL)
	if err != nil {
		return err
	}
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errorbank.SignatureInvalid("paypal certificate does not carry an RSA key")
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errorbank.SignatureInvalid("paypal signature is not base64", errorbank.WithCause(err))
	}
	digest := sha256.Sum256([]byte(signedMessage(transmissionID, transmissionTime, v.webhookID, body)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return errorbank.SignatureInvalid("paypal signature mismatch", errorbank.WithCause(err))
	}
	return nil
}

// signedMessage is the string PayPal signs for each transmission.
func signedMessage(transmissionID, transmissionTime, webhookID string, body []byte) string {
	return strings.Join([]string{
		transmissionID,
		transmissionTime,
		webhookID,
		strconv.FormatUint(uint64(crc32.ChecksumIEEE(body)), 10),
	}, "|")
}

func (v *verifier) checkCertURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errorbank.SignatureInvalid("invalid paypal certificate url", errorbank.WithCause(err))
	}
	if u.Scheme != "https" {
		return errorbank.SignatureInvalid("paypal certificate url must use https")
	}
	if _, ok := v.hosts[strings.ToLower(u.Hostname())]; !ok {
		return errorbank.SignatureInvalid("paypal certificate host not allowed", errorbank.WithDetail("host", u.Hostname()))
	}
	return nil
}

func (v *verifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	now := v.now()

	v.mu.Lock()
	cached, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok && now.Before(cached.expires) && now.Before(cached.leaf.NotAfter) {
		return cached.leaf, nil
	}

	chain, err := v.fetch(ctx, certURL)
	if err != nil {
		// The cert host being unreachable is transient; the provider retries.
		return nil, errorbank.ServiceUnavailable("fetch paypal certificate", errorbank.WithCause(err))
	}
	if len(chain) == 0 {
		return nil, errorbank.SignatureInvalid("paypal certificate url returned no certificates")
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, errorbank.SignatureInvalid("paypal certificate chain is not trusted", errorbank.WithCause(err))
	}

	expires := now.Add(v.ttl)
	if v.ttl <= 0 || leaf.NotAfter.Before(expires) {
		expires = leaf.NotAfter
	}
	v.mu.Lock()
	v.certs[certURL] = cachedChain{leaf: leaf, expires: expires}
	v.mu.Unlock()
	return leaf, nil
}

// HTTPCertFetcher downloads PEM chains with client.
func HTTPCertFetcher(client *http.Client) CertFetcher {
	return func(ctx context.Context, certURL string) ([]*x509.Certificate, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("certificate download returned %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		return parsePEMChain(raw)
	}
}

func parsePEMChain(raw []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificates in PEM data")
	}
	return chain, nil
}
