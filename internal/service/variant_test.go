package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestSelectVariant_RoundRobinIncludesBase(t *testing.T) {
	c := &model.Campaign{Message: "Promo!", Variations: []string{"Oferta!", "Desconto!"}}

	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, service.SelectVariant(c, i))
	}

	assert.Equal(t, []string{"Promo!", "Oferta!", "Desconto!", "Promo!", "Oferta!"}, got)
}

func TestSelectVariant_NoVariationsUsesBase(t *testing.T) {
	c := &model.Campaign{Message: "Promo!"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, "Promo!", service.SelectVariant(c, i))
	}
}

func TestVariants_SkipsBlankEntries(t *testing.T) {
	got := service.Variants("Promo!", []string{"", "Oferta!", "   "})
	assert.Equal(t, []string{"Promo!", "Oferta!"}, got)
}

func TestSelectVariant_Deterministic(t *testing.T) {
	c := &model.Campaign{Message: "a", Variations: []string{"b", "c", "d"}}
	for i := 0; i < 20; i++ {
		assert.Equal(t, service.SelectVariant(c, i), service.SelectVariant(c, i))
	}
}
