package model

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Hello world", StripMarkup("<b>Hello</b>   <i>world</i>"))
	assert.Equal(t, "a b", StripMarkup("a <br/> b"))
	assert.Equal(t, "1 2", StripMarkup("1 < 2 >"))
	assert.Equal(t, "", StripMarkup("<div></div>"))
}

func TestSanitize(t *testing.T) {
	r := Record{
		HasWebsite:    true,
		Description:   "<p>Family run <b>nail</b> salon</p>",
		Style:         ptr("<i></i>"),
		GoogleReviews: -4,
		GoogleRating:  ptr(math.NaN()),
		SocialMediaLinks: []string{
			"https://www.instagram.com/nailbar",
			"https://WWW.INSTAGRAM.COM/nailbar",
			"https://example.com/nailbar",
		},
	}
	r.Sanitize()

	assert.False(t, r.HasWebsite)
	assert.Equal(t, "Family run nail salon", r.Description)
	assert.Nil(t, r.Style)
	assert.Equal(t, 0, r.GoogleReviews)
	assert.Nil(t, r.GoogleRating)
	assert.Equal(t, []string{"https://www.instagram.com/nailbar"}, r.SocialMediaLinks)
	assert.Equal(t, StatusPending, r.Status)
}

func TestSanitize_KeepsValidFields(t *testing.T) {
	r := Record{Style: ptr("warm rustic"), GoogleRating: ptr(4.5), Status: StatusDeployed}
	r.Sanitize()
	assert.Equal(t, "warm rustic", *r.Style)
	assert.InDelta(t, 4.5, *r.GoogleRating, 0.0001)
	assert.Equal(t, StatusDeployed, r.Status)
	assert.NotNil(t, r.SocialMediaLinks)
}

func TestIsSocialURL(t *testing.T) {
	for _, u := range []string{
		"https://facebook.com/x", "http://m.facebook.com/x", "https://fb.com/x",
		"https://x.com/y", "https://www.yelp.com/biz/z", "https://youtu.be/abc",
		"https://www.threads.net/@a", "https://business.tiktok.com/@b",
	} {
		assert.True(t, IsSocialURL(u), u)
	}
	for _, u := range []string{
		"https://notfacebook.com/x", "ftp://facebook.com/x", "facebook.com/x",
		"https://example.com/?ref=facebook.com", "https://box.com/x",
	} {
		assert.False(t, IsSocialURL(u), u)
	}
}

func TestFilterSocialLinks_Cap(t *testing.T) {
	var links []string
	for i := 0; i < 15; i++ {
		links = append(links, fmt.Sprintf("https://instagram.com/p%d", i))
	}
	assert.Len(t, FilterSocialLinks(links), MaxSocialLinks)
	assert.NotNil(t, FilterSocialLinks(nil))
}

func TestRecordJSONNulls(t *testing.T) {
	data, err := json.Marshal(Record{ID: "1", Status: StatusPending})
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"email":null`)
	assert.Contains(t, s, `"color_palette":null`)
	assert.Contains(t, s, `"has_website":false`)
	assert.NotContains(t, s, "live_url_3d")
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusContacted.Valid())
	assert.False(t, Status("archived").Valid())
}
