package cartqty

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 単位ファミリー（重量 / 個数）
type Family string

const (
	FamilyWeight Family = "weight"
	FamilyCount  Family = "count"
)

// 単位（gram / kilogram / piece）
type Unit string

const (
	UnitGram     Unit = "g"
	UnitKilogram Unit = "kg"
	UnitPiece    Unit = "piece"
)

// 重量の保存桁（numeric(14,3) と合わせる）
const quantityScale int32 = 3

var (
	gramsPerKilogram = decimal.NewFromInt(1000)
	kilogramDisplay  = decimal.NewFromInt(1000)
)

// ParseUnit は表記ゆれを吸収して Unit を返す。
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "g", "gram", "grams":
		return UnitGram, nil
	case "kg", "kilogram", "kilograms":
		return UnitKilogram, nil
	case "piece", "pieces", "pc", "pcs":
		return UnitPiece, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}

// 単位が属するファミリー
func (u Unit) Family() Family {
	if u == UnitPiece {
		return FamilyCount
	}
	return FamilyWeight
}

// 基準単位で保存できる小数桁（個数は整数のみ）
func (f Family) scale() int32 {
	if f == FamilyCount {
		return 0
	}
	return quantityScale
}

// ファミリーの基準単位（重量はグラム、個数はピース）
func (f Family) BaseUnit() Unit {
	if f == FamilyCount {
		return UnitPiece
	}
	return UnitGram
}

// Normalize は value を基準単位に換算する。
func Normalize(value decimal.Decimal, unit Unit) (Family, decimal.Decimal) {
	switch unit {
	case UnitKilogram:
		return FamilyWeight, value.Mul(gramsPerKilogram)
	case UnitGram:
		return FamilyWeight, value
	default:
		return FamilyCount, value
	}
}

// NormalizeIn は family 以外の単位を拒否してから換算する。
func NormalizeIn(value decimal.Decimal, unit Unit, family Family) (decimal.Decimal, error) {
	f, base := Normalize(value, unit)
	if f != family {
		return decimal.Zero, fmt.Errorf("%w: %s is not a %s unit", ErrUnitFamilyMismatch, unit, family)
	}
	return base, nil
}

// Denormalize は表示用に基準単位の値を displayUnit に戻す。
func Denormalize(base decimal.Decimal, family Family, displayUnit Unit) (decimal.Decimal, error) {
	if displayUnit.Family() != family {
		return decimal.Zero, fmt.Errorf("%w: %s is not a %s unit", ErrUnitFamilyMismatch, displayUnit, family)
	}
	if displayUnit == UnitKilogram {
		return base.Div(gramsPerKilogram), nil
	}
	return base, nil
}

// PreferredDisplay は画面に出す単位を決める（1000g以上はkg）。保存値には影響しない。
func PreferredDisplay(base decimal.Decimal, family Family) (decimal.Decimal, Unit) {
	if family == FamilyWeight && base.GreaterThanOrEqual(kilogramDisplay) {
		return base.Div(gramsPerKilogram), UnitKilogram
	}
	return base, family.BaseUnit()
}

// 商品ごとの +/- 刻み
type BaseUnit string

const (
	BaseUnit250g  BaseUnit = "250g"
	BaseUnit500g  BaseUnit = "500g"
	BaseUnit1kg   BaseUnit = "1kg"
	BaseUnitPiece BaseUnit = "piece"
)

func ParseBaseUnit(s string) (BaseUnit, error) {
	b := BaseUnit(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case BaseUnit250g, BaseUnit500g, BaseUnit1kg, BaseUnitPiece:
		return b, nil
	}
	return "", fmt.Errorf("%w: base unit %q", ErrUnknownUnit, s)
}

// Step は刻みを基準単位で返す。
func (b BaseUnit) Step() decimal.Decimal {
	switch b {
	case BaseUnit250g:
		return decimal.NewFromInt(250)
	case BaseUnit500g:
		return decimal.NewFromInt(500)
	case BaseUnit1kg:
		return decimal.NewFromInt(1000)
	default:
		return decimal.NewFromInt(1)
	}
}

func (b BaseUnit) Family() Family {
	if b == BaseUnitPiece {
		return FamilyCount
	}
	return FamilyWeight
}
