package notify

import (
	"errors"
	"testing"
)

func TestCheckURL_RejectsInternalDestinations(t *testing.T) {
	// allowHTTP=true so rejections below are about the destination, not the
	// scheme.
	cases := []string{
		"http://127.0.0.1/hook",
		"http://127.0.0.1:8080/hook",
		"http://[::1]/hook",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5/hook",
		"http://172.16.3.4/hook",
		"http://192.168.1.1/hook",
		"http://100.64.0.1/hook",
		"http://0.0.0.0/hook",
		"http://localhost/hook",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://kubernetes.default.svc/api",
		"http://service.cluster.internal/hook",
		"http://printer.local/hook",
	}

	for _, raw := range cases {
		if err := CheckURL(raw, true); !errors.Is(err, ErrUnsafeURL) {
			t.Errorf("CheckURL(%q) = %v, want ErrUnsafeURL", raw, err)
		}
	}
}

func TestCheckURL_RejectsBadSchemes(t *testing.T) {
	for _, raw := range []string{
		"ftp://example.com/hook",
		"file:///etc/passwd",
		"gopher://example.com",
		"",
	} {
		if err := CheckURL(raw, true); !errors.Is(err, ErrUnsafeURL) {
			t.Errorf("CheckURL(%q) = %v, want ErrUnsafeURL", raw, err)
		}
	}
}

func TestCheckURL_HTTPOnlyInDevelopment(t *testing.T) {
	raw := "http://hooks.example.com/hook"

	if err := CheckURL(raw, false); !errors.Is(err, ErrUnsafeURL) {
		t.Errorf("plain HTTP should be rejected in production, got %v", err)
	}
}

func TestCheckURL_AcceptsPublicLiterals(t *testing.T) {
	// IP literals skip DNS, so these exercise only the address checks.
	for _, raw := range []string{
		"https://8.8.8.8/hook",
		"https://1.1.1.1:8443/hook",
	} {
		if err := CheckURL(raw, false); err != nil {
			t.Errorf("CheckURL(%q) = %v, want nil", raw, err)
		}
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://hooks.slack.com/services/T0/B0/xyz", PlatformSlack},
		{"https://discord.com/api/webhooks/123/tok", PlatformDiscord},
		{"https://corp.webhook.office.com/webhookb2/abc", PlatformTeams},
		{"https://example.com/my-hook", PlatformGeneric},
	}

	for _, tc := range cases {
		if got := DetectPlatform(tc.url); got != tc.want {
			t.Errorf("DetectPlatform(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
