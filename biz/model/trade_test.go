package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// 报价与资产数量同精度，低价资产的报价不会在落库时被截成 0
func TestTradePriceColumnPrecision(t *testing.T) {
	s, err := schema.Parse(&TradeIntent{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	price := s.LookUpField("Price")
	require.NotNil(t, price)
	asset := s.LookUpField("AmountAsset")
	require.NotNil(t, asset)
	assert.Equal(t, "numeric(30,10)", string(price.DataType))
	assert.Equal(t, asset.DataType, price.DataType)
}
