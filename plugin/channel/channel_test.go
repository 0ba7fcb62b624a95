package channel

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		ok      bool
	}{
		{"text always valid", TextPayload{Text: "hi"}, true},
		{"two buttons", ButtonPayload{Text: "Proceed?", Buttons: []Button{{ID: "y", Label: "Yes"}, {ID: "n", Label: "No"}}}, true},
		{"four buttons rejected", ButtonPayload{Text: "?", Buttons: []Button{
			{ID: "1", Label: "a"}, {ID: "2", Label: "b"}, {ID: "3", Label: "c"}, {ID: "4", Label: "d"},
		}}, false},
		{"zero buttons rejected", ButtonPayload{Text: "?"}, false},
		{"empty button label rejected", ButtonPayload{Text: "?", Buttons: []Button{{ID: "1"}}}, false},
		{"list within limits", ListPayload{Title: "Products", Rows: []ListRow{{ID: "1", Title: "Shirt"}}}, true},
		{"eleven rows rejected", ListPayload{Title: "Products", Rows: make11Rows()}, false},
		{"long row title rejected", ListPayload{Title: "Products", Rows: []ListRow{
			{ID: "1", Title: strings.Repeat("x", MaxRowTitleLength+1)},
		}}, false},
		{"media needs url", MediaPayload{Caption: "nice"}, false},
		{"media with url", MediaPayload{URL: "https://example.com/a.jpg"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.payload)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func make11Rows() []ListRow {
	rows := make([]ListRow, MaxListRows+1)
	for i := range rows {
		rows[i] = ListRow{ID: "r", Title: "row"}
	}
	return rows
}

func TestFakeRecordsSends(t *testing.T) {
	f := NewFake()

	r1, err := f.Send(context.Background(), nil, "+15551234", TextPayload{Text: "hi"})
	require.NoError(t, err)
	r2, err := f.Send(context.Background(), nil, "+15551234", TextPayload{Text: "again"})
	require.NoError(t, err)

	assert.NotEqual(t, r1.ProviderMessageID, r2.ProviderMessageID)
	sends := f.Sends()
	require.Len(t, sends, 2)
	assert.Equal(t, "hi", sends[0].Payload.(TextPayload).Text)
}

func TestFakeNextErr(t *testing.T) {
	f := NewFake()
	f.NextErr = &SendError{Transient: true, Err: assert.AnError}

	_, err := f.Send(context.Background(), nil, "x", TextPayload{Text: "hi"})
	require.Error(t, err)
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.Transient)

	// The error clears; the next send succeeds.
	_, err = f.Send(context.Background(), nil, "x", TextPayload{Text: "hi"})
	assert.NoError(t, err)
}
