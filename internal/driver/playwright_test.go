package driver

import (
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func TestContextOptions(t *testing.T) {
	tests := []struct {
		name      string
		profile   schema.Profile
		viewport  playwright.Size
		userAgent *string
		locale    *string
		timezone  *string
		headers   map[string]string
	}{
		{
			name:     "defaults",
			profile:  schema.Profile{ID: "p1"},
			viewport: playwright.Size{Width: defaultViewportW, Height: defaultViewportH},
		},
		{
			name:     "partial viewport falls back to defaults",
			profile:  schema.Profile{ID: "p1", Viewport: &schema.Viewport{Width: 800}},
			viewport: playwright.Size{Width: defaultViewportW, Height: defaultViewportH},
		},
		{
			name: "full profile",
			profile: schema.Profile{
				ID:        "p1",
				Viewport:  &schema.Viewport{Width: 390, Height: 844},
				UserAgent: "Mozilla/5.0 (iPhone)",
				Locale:    "es-CL",
				Timezone:  "America/Santiago",
				Headers:   map[string]string{"Accept-Language": "es"},
			},
			viewport:  playwright.Size{Width: 390, Height: 844},
			userAgent: playwright.String("Mozilla/5.0 (iPhone)"),
			locale:    playwright.String("es-CL"),
			timezone:  playwright.String("America/Santiago"),
			headers:   map[string]string{"Accept-Language": "es"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := contextOptions(&tt.profile)
			require.NotNil(t, opts.Viewport)
			assert.Equal(t, tt.viewport, *opts.Viewport)
			assert.Equal(t, tt.userAgent, opts.UserAgent)
			assert.Equal(t, tt.locale, opts.Locale)
			assert.Equal(t, tt.timezone, opts.TimezoneId)
			assert.Equal(t, tt.headers, opts.ExtraHttpHeaders)
		})
	}
}
