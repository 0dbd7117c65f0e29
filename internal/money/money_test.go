package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse("29.99")
	require.NoError(t, err)
	assert.Equal(t, Cents(2999), c)

	c, err = Parse("100")
	require.NoError(t, err)
	assert.Equal(t, Cents(10000), c)

	_, err = Parse("1.005")
	assert.Error(t, err)

	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "59.98", Cents(5998).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "825.50", Cents(82550).String())
	assert.Equal(t, "-1.00", Cents(-100).String())
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount Cents `json:"amount"`
	}{Amount: 5399})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"53.99"}`, string(b))

	var in struct {
		Amount Cents `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":100.5}`), &in))
	assert.Equal(t, Cents(10050), in.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount":"2.00"}`), &in))
	assert.Equal(t, Cents(200), in.Amount)

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"2.001"}`), &in))
}
