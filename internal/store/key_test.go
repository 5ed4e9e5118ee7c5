package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
	}{
		{"https link", "https://quip.example.com/AbCdEf", "quip.example.com/AbCdEf.html"},
		{"http link", "http://quip.example.com/XyZ", "quip.example.com/XyZ.html"},
		{"no scheme", "quip.example.com/AbCdEf", "quip.example.com/AbCdEf.html"},
		{"empty link", "", ".html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.link))
		})
	}
}

func TestObjectKey_SchemeInvariant(t *testing.T) {
	// The same document reached over http and https maps to one key.
	assert.Equal(t,
		ObjectKey("https://quip.example.com/AbCdEf"),
		ObjectKey("http://quip.example.com/AbCdEf"),
	)
}

func TestObjectKey_Stable(t *testing.T) {
	// Repeated derivation never drifts; the key depends on nothing but the link.
	link := "https://quip.example.com/AbCdEf"
	assert.Equal(t, ObjectKey(link), ObjectKey(link))
}
