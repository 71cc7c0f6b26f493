package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/procflow/pkg/schema"
)

func TestMatchFolder(t *testing.T) {
	tests := []struct {
		name    string
		trigger *schema.Trigger
		path    string
		want    string
		matched bool
	}{
		{"exact with leading slash", &schema.Trigger{FolderPath: "invoices"}, "/invoices/q1.pdf", MatchExact, true},
		{"exact without leading slash", &schema.Trigger{FolderPath: "invoices"}, "invoices/q1.pdf", MatchExact, true},
		{"configured with slashes", &schema.Trigger{FolderPath: "/Invoices/"}, "invoices/q1.pdf", MatchExact, true},
		{"case folded", &schema.Trigger{FolderPath: "invoices"}, "/INVOICES/q1.pdf", MatchExact, true},
		{"backslashes", &schema.Trigger{FolderPath: "finance/invoices"}, `\finance\invoices\q1.pdf`, MatchExact, true},
		{"nested prefix", &schema.Trigger{FolderPath: "invoices"}, "/invoices/2024/q1.pdf", MatchPrefix, true},
		{"sibling folder", &schema.Trigger{FolderPath: "invoices"}, "/archived-invoices/q1.pdf", "", false},
		{"name prefix only", &schema.Trigger{FolderPath: "invoices"}, "/invoices-old/q1.pdf", "", false},
		{"provider id", &schema.Trigger{ProviderFolderID: "1AbC"}, "/drive/1AbC/q1.pdf", MatchProviderID, true},
		{"provider id is case sensitive", &schema.Trigger{ProviderFolderID: "1AbC"}, "/drive/1abc/q1.pdf", "", false},
		{"folder beats provider id", &schema.Trigger{FolderPath: "drive", ProviderFolderID: "1AbC"}, "/drive/1AbC/q1.pdf", MatchPrefix, true},
		{"root file needs folder", &schema.Trigger{FolderPath: "invoices"}, "q1.pdf", "", false},
		{"empty trigger", &schema.Trigger{}, "/invoices/q1.pdf", "", false},
		{"nil trigger", nil, "/invoices/q1.pdf", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchFolder(tt.trigger, tt.path)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeFolder(t *testing.T) {
	assert.Equal(t, "a/b", normalizeFolder(`\A\b\`))
	assert.Equal(t, "", normalizeFolder("/"))
	assert.Equal(t, "a/b", containingFolder("a/b/c.txt"))
	assert.Equal(t, "", containingFolder("c.txt"))
}
