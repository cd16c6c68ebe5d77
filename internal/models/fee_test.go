package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestFeeRecordApplyPartialThenPaid(t *testing.T) {
	record := FeeRecord{
		TotalAmount: dec(15000),
		PaidAmount:  dec(0),
		Balance:     dec(15000),
		Status:      FeePending,
	}

	record = record.Apply(dec(5000))
	assert.True(t, record.PaidAmount.Equal(dec(5000)))
	assert.True(t, record.Balance.Equal(dec(10000)))
	assert.Equal(t, FeePartial, record.Status)

	record = record.Apply(dec(10000))
	assert.True(t, record.PaidAmount.Equal(dec(15000)))
	assert.True(t, record.Balance.Equal(dec(0)))
	assert.Equal(t, FeePaid, record.Status)
}

func TestFeeRecordApplyOverpaymentKeepsNegativeBalance(t *testing.T) {
	record := FeeRecord{
		TotalAmount: dec(10000),
		PaidAmount:  dec(8000),
		Balance:     dec(2000),
		Status:      FeePartial,
	}

	record = record.Apply(dec(5000))
	assert.True(t, record.Balance.Equal(dec(-3000)), "negative balance preserved for refund accounting")
	assert.Equal(t, FeePaid, record.Status)
	assert.False(t, record.Outstanding())
}

func TestFeeRecordOutstanding(t *testing.T) {
	assert.True(t, FeeRecord{Balance: dec(1)}.Outstanding())
	assert.False(t, FeeRecord{Balance: dec(0)}.Outstanding())
	assert.False(t, FeeRecord{Balance: dec(-100)}.Outstanding())
}
