package engine

import "github.com/shopspring/decimal"

// =============================================================================
// AGGREGATOR - Dashboard KPI rollup
// =============================================================================

// KPISet is the production rollup for one analysis year.
type KPISet struct {
	PolizasNuevasVida       int
	PrimaNuevaVida          decimal.Decimal
	PolizasNuevasGMM        int
	AseguradosNuevosGMM     int
	PrimaNuevaGMM           decimal.Decimal
	PolizasSubsecuentesVida int
	PrimaSubsecuenteVida    decimal.Decimal
	PolizasSubsecuentesGMM  int
	PrimaSubsecuenteGMM     decimal.Decimal

	// Cancellations are counted over the whole input, not the analysis year.
	CanceladasVida int
	CanceladasGMM  int

	TotalPolizas int // policies whose application year is the analysis year
}

// AggregateKPIs rolls up classified policies for analysisYear.
//
// The four production buckets only see policies whose application year is
// analysisYear. The cancellation bucket (receipt status other than PAGADA)
// is split by ramo and deliberately ignores the year filter. The input is
// never modified.
func AggregateKPIs(policies []ClassifiedPolicy, analysisYear int) KPISet {
	k := KPISet{
		PrimaNuevaVida:       decimal.Zero,
		PrimaNuevaGMM:        decimal.Zero,
		PrimaSubsecuenteVida: decimal.Zero,
		PrimaSubsecuenteGMM:  decimal.Zero,
	}

	for _, p := range policies {
		if p.ReceiptStatus != ReceiptPagada {
			switch p.Ramo {
			case RamoVida:
				k.CanceladasVida++
			case RamoGMM:
				k.CanceladasGMM++
			}
		}

		if p.ApplicationYear != analysisYear {
			continue
		}
		k.TotalPolizas++

		c := p.Classification
		switch {
		case p.Ramo == RamoVida && c.Category == CategoryNueva && c.Tier == TierBasica:
			k.PolizasNuevasVida++
			k.PrimaNuevaVida = k.PrimaNuevaVida.Add(p.NetPremium)

		case p.Ramo == RamoGMM && c.Category == CategoryNueva:
			k.PolizasNuevasGMM++
			k.PrimaNuevaGMM = k.PrimaNuevaGMM.Add(p.NetPremium)
			k.AseguradosNuevosGMM += insuredOrOne(p.InsuredCount)

		case p.Ramo == RamoVida && c.Category == CategorySubsecuente:
			k.PolizasSubsecuentesVida++
			k.PrimaSubsecuenteVida = k.PrimaSubsecuenteVida.Add(p.NetPremium)

		case p.Ramo == RamoGMM && c.Category == CategorySubsecuente:
			k.PolizasSubsecuentesGMM++
			k.PrimaSubsecuenteGMM = k.PrimaSubsecuenteGMM.Add(p.NetPremium)
		}
	}

	return k
}

func insuredOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
