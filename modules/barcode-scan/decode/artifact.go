package decode

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/internal/backoff"
)

//go:embed profile.yaml
var defaultProfile []byte

// maxArtifactSize bounds the decompressed artifact.
const maxArtifactSize = 1 << 20

// EngineZXing is the only engine the default module links.
const EngineZXing = "zxing"

// Profile tunes the decode engine.
type Profile struct {
	Engine       string `yaml:"engine"`
	TryHarder    bool   `yaml:"try_harder"`
	AlsoInverted bool   `yaml:"also_inverted"`
	CharacterSet string `yaml:"character_set"`
}

// Validate checks the profile is one the engine can link.
func (p Profile) Validate() error {
	if p.Engine == "" {
		return errors.New("decode: profile: engine is required")
	}
	return nil
}

// ErrIntegrity is returned when an artifact does not match its integrity attribute.
var ErrIntegrity = errors.New("decode: artifact integrity mismatch")

// LoaderConfig locates and verifies the engine artifact.
type LoaderConfig struct {
	// Location is a file path, file:// URL or http(s):// URL. Empty uses the
	// embedded default profile.
	Location string

	// Integrity is "blake3-<hex>" or "sha256-<hex>" over the fetched bytes.
	// Empty skips verification.
	Integrity string

	// HTTPClient defaults to a client with a 15s timeout that never sends a
	// Referer header.
	HTTPClient *http.Client

	// Retry bounds HTTP retries within one bootstrap.
	Retry backoff.Config
}

// ZXingLoader bootstraps the gozxing engine.
type ZXingLoader struct {
	cfg LoaderConfig
}

// NewZXingLoader creates a loader. Zero retry settings get three quick retries.
func NewZXingLoader(cfg LoaderConfig) *ZXingLoader {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.RetryDelay == 0 {
		cfg.Retry = backoff.Config{MaxRetries: 3, RetryDelay: 250 * time.Millisecond, MaxRetryDelay: 2 * time.Second}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("stopped after 5 redirects")
				}
				req.Header.Del("Referer")
				return nil
			},
		}
	}
	return &ZXingLoader{cfg: cfg}
}

// FetchArtifact reads, verifies, decompresses and parses the engine profile.
func (l *ZXingLoader) FetchArtifact(ctx context.Context) (Artifact, error) {
	source := l.cfg.Location
	var (
		raw []byte
		err error
	)

	switch {
	case source == "":
		source = "embedded:profile.yaml"
		raw = defaultProfile
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		raw, err = l.fetchHTTP(ctx, source)
	default:
		raw, err = readFile(source)
	}
	if err != nil {
		return Artifact{}, err
	}

	digest, err := verifyIntegrity(raw, l.cfg.Integrity)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", source, err)
	}

	doc, err := decompress(raw)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", source, err)
	}

	profile, err := parseProfile(doc)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", source, err)
	}

	return Artifact{Profile: profile, Source: source, Digest: digest}, nil
}

// LoadModule returns the gozxing reader registry.
func (l *ZXingLoader) LoadModule(ctx context.Context) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newZXingModule(), nil
}

func readFile(location string) ([]byte, error) {
	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("decode: invalid artifact url %q: %w", location, err)
		}
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decode: read artifact: %w", err)
	}
	return data, nil
}

func (l *ZXingLoader) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	var body []byte

	err := backoff.Run(ctx, "decode: fetch "+location, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/yaml, application/x-xz")

		resp, err := l.cfg.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("decode: fetch artifact: %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("decode: fetch artifact: %s", resp.Status))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxArtifactSize {
			return backoff.Permanent(fmt.Errorf("decode: artifact exceeds %d bytes", maxArtifactSize))
		}
		body = data
		return nil
	}, l.cfg.Retry, nil)

	return body, err
}

// verifyIntegrity checks data against an SRI-style "<algo>-<hex>" attribute
// and returns the normalized digest string.
func verifyIntegrity(data []byte, integrity string) (string, error) {
	if integrity == "" {
		return "", nil
	}

	algo, want, ok := strings.Cut(integrity, "-")
	if !ok {
		return "", fmt.Errorf("decode: malformed integrity %q", integrity)
	}

	var sum []byte
	switch strings.ToLower(algo) {
	case "blake3":
		s := blake3.Sum256(data)
		sum = s[:]
	case "sha256":
		s := sha256.Sum256(data)
		sum = s[:]
	default:
		return "", fmt.Errorf("decode: unsupported integrity algorithm %q", algo)
	}

	got := hex.EncodeToString(sum)
	if !strings.EqualFold(got, want) {
		return "", fmt.Errorf("%w: want %s, got %s-%s", ErrIntegrity, integrity, algo, got)
	}
	return strings.ToLower(algo) + "-" + got, nil
}

var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// decompress unwraps xz-compressed artifacts; other data is returned as is.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, xzMagic) {
		return data, nil
	}

	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: open xz artifact: %w", err)
	}
	out, err := io.ReadAll(io.LimitReader(r, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("decode: decompress artifact: %w", err)
	}
	if len(out) > maxArtifactSize {
		return nil, fmt.Errorf("decode: artifact exceeds %d bytes", maxArtifactSize)
	}
	return out, nil
}

func parseProfile(doc []byte) (Profile, error) {
	p := Profile{Engine: EngineZXing, CharacterSet: "UTF-8"}
	if err := yaml.Unmarshal(doc, &p); err != nil {
		return Profile{}, fmt.Errorf("decode: parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
