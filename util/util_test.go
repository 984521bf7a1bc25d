package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testConfig() *AppConfig {
	c := &AppConfig{}
	c.Conf.Domain = "social.example"
	return c
}

func TestUrlHelpers(t *testing.T) {
	conf := testConfig()

	if conf.BaseUrl() != "https://social.example" {
		t.Errorf("Unexpected base url %s", conf.BaseUrl())
	}
	if conf.ActorUrl("Alice") != "https://social.example/fediverse/blog/alice" {
		t.Errorf("Actor url should lowercase the handle, got %s", conf.ActorUrl("Alice"))
	}

	id := uuid.New()
	postUrl := conf.PostUrl(id)
	if !strings.HasPrefix(postUrl, conf.PostUrlPrefix()) {
		t.Errorf("Post url %s does not share the prefix %s", postUrl, conf.PostUrlPrefix())
	}
	if got := strings.TrimPrefix(postUrl, conf.PostUrlPrefix()); got != id.String() {
		t.Errorf("Post url does not end in the id, got %s", got)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keys := GeneratePemKeypair()

	if !strings.Contains(keys.Private, "BEGIN RSA PRIVATE KEY") {
		t.Error("Private key is not PKCS1 PEM")
	}
	if !strings.Contains(keys.Public, "BEGIN PUBLIC KEY") {
		t.Error("Public key is not PKIX PEM")
	}
	if keys.Private == keys.Public {
		t.Error("Key halves are identical")
	}
}

func TestExtractHost(t *testing.T) {
	cases := []struct {
		in   string
		host string
		ok   bool
	}{
		{"https://mastodon.example/users/alice", "mastodon.example", true},
		{"https://mastodon.example:8443/users/alice", "mastodon.example:8443", true},
		{"not a url", "", false},
		{"/just/a/path", "", false},
	}
	for _, tc := range cases {
		host, err := ExtractHost(tc.in)
		if tc.ok && (err != nil || host != tc.host) {
			t.Errorf("ExtractHost(%q) = %q, %v", tc.in, host, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ExtractHost(%q) should fail", tc.in)
		}
	}
}

func TestNormalizeInput(t *testing.T) {
	got := NormalizeInput("hello\n<world>")
	if strings.Contains(got, "\n") {
		t.Error("Newlines survived normalization")
	}
	if strings.Contains(got, "<") {
		t.Errorf("HTML not escaped: %s", got)
	}
}
