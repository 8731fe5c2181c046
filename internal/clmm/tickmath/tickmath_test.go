package tickmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceToTick_AlwaysMultipleOfSpacing(t *testing.T) {
	prices := []float64{0.0001, 0.37, 0.9, 1.0, 1.1, 42.5, 1234.567, 98765.0}
	spacings := []int32{1, 2, 8, 64, 128}
	decimals := [][2]uint8{{9, 9}, {9, 6}, {6, 9}, {6, 6}}

	for _, price := range prices {
		for _, spacing := range spacings {
			for _, dec := range decimals {
				for _, roundUp := range []bool{false, true} {
					tick, err := PriceToTick(price, dec[0], dec[1], spacing, roundUp)
					require.NoError(t, err)
					assert.Zerof(t, tick%spacing,
						"tick %d not aligned: price=%f spacing=%d decimals=%v roundUp=%v",
						tick, price, spacing, dec, roundUp)
				}
			}
		}
	}
}

func TestPriceToTick_InvalidInputs(t *testing.T) {
	_, err := PriceToTick(0, 9, 9, 64, false)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = PriceToTick(-1.5, 9, 9, 64, false)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = PriceToTick(1.0, 9, 9, 0, false)
	assert.Error(t, err)
}

func TestAlignTick(t *testing.T) {
	tests := []struct {
		name    string
		tick    int32
		spacing int32
		roundUp bool
		want    int32
	}{
		{"aligned stays put (floor)", -1088, 64, false, -1088},
		{"aligned stays put (ceil)", 960, 64, true, 960},
		{"negative floors away from zero", -1054, 64, false, -1088},
		{"negative ceils toward zero", -1054, 64, true, -1024},
		{"positive floors toward zero", 953, 64, false, 896},
		{"positive ceils away from zero", 953, 64, true, 960},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AlignTick(tt.tick, tt.spacing, tt.roundUp))
		})
	}
}

// Сценарий из практики: spacing=64, цена 1.0, диапазон ±10%.
// tick(0.9) ≈ -1053.6, ближайшее кратное 64 снизу — -1088;
// tick(1.1) ≈ 953.2, ближайшее кратное 64 сверху — 960.
func TestRangeAroundPrice_TenPercentSpacing64(t *testing.T) {
	rng, err := RangeAroundPrice(1.0, 0.10, 9, 9, 64)
	require.NoError(t, err)

	assert.Equal(t, int32(-1088), rng.Lower)
	assert.Equal(t, int32(960), rng.Upper)
}

func TestRangeAroundPrice_LowerAlwaysBelowUpper(t *testing.T) {
	prices := []float64{0.001, 0.5, 1.0, 7.77, 1500.0}
	widths := []float64{0.001, 0.01, 0.1, 0.5, 0.99}
	spacings := []int32{1, 8, 64, 200}

	for _, price := range prices {
		for _, width := range widths {
			for _, spacing := range spacings {
				rng, err := RangeAroundPrice(price, width, 9, 6, spacing)
				require.NoError(t, err)
				assert.Lessf(t, rng.Lower, rng.Upper,
					"price=%f width=%f spacing=%d", price, width, spacing)
				assert.Zero(t, rng.Lower%spacing)
				assert.Zero(t, rng.Upper%spacing)
			}
		}
	}
}

func TestRangeAroundPrice_NarrowRangeDoesNotCollapse(t *testing.T) {
	// Ширина меньше одного шага spacing: после выравнивания границы совпали бы.
	rng, err := RangeAroundPrice(1.0, 0.001, 9, 9, 128)
	require.NoError(t, err)
	assert.Equal(t, rng.Lower+128, rng.Upper)
}

func TestRangeAroundPrice_InvalidWidth(t *testing.T) {
	_, err := RangeAroundPrice(1.0, 0, 9, 9, 64)
	assert.Error(t, err)

	_, err = RangeAroundPrice(1.0, 1.0, 9, 9, 64)
	assert.Error(t, err)
}

func TestSqrtPriceRoundTrip(t *testing.T) {
	for _, tick := range []int32{-44363, -1088, -64, 0, 64, 960, 44363} {
		sqrtPrice := TickToSqrtPriceX64(tick)
		back, err := SqrtPriceX64ToTick(sqrtPrice)
		require.NoError(t, err)
		// Плавающая точка: допускаем соседний тик.
		assert.InDelta(t, tick, back, 1)
	}
}

func TestSqrtPriceX64ToPrice(t *testing.T) {
	// Тик 0 — цена ровно 1 при равных decimals.
	price, err := SqrtPriceX64ToPrice(TickToSqrtPriceX64(0), 9, 9)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, price, 1e-9)

	// Разница decimals сдвигает цену на порядок на каждый знак.
	price, err = SqrtPriceX64ToPrice(TickToSqrtPriceX64(0), 9, 6)
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, price, 1e-12)

	_, err = SqrtPriceX64ToPrice(nil, 9, 9)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestTickToPrice_InverseOfPriceToTick(t *testing.T) {
	price := 250.0
	tick, err := PriceToTick(price, 9, 9, 1, false)
	require.NoError(t, err)

	back := TickToPrice(tick, 9, 9)
	// Округление вниз к целому тику теряет не больше одного базисного пункта.
	assert.InDelta(t, price, back, price*0.0002)
}
