package reference

import "strings"

// importantFeatures lists, per region, the features used for every distance,
// normalization and embedding computation.  The spellings match the column
// headers of each region's reference file.
var importantFeatures = map[string][]string{
	Baltimore.Name: {
		"PTR_SEQUENCE_NUM", "CREAT_DON", "DAYSQAIT_ALLOC", "time_on_analysis", "KDPI",
		"AGE_DON", "HGT_CM_CALC", "MICRO_FAT_LI_DON", "BUN_DON", "DIURETICS_N",
		"KIL_BACK_TBL_FLUSH", "INIT_EPTS", "DAYSWAIT_CHRON", "NUM_ORG_DISC", "END_CPRA",
		"PO2_DON", "KIP_REASON_CD", "time_since_gfr_less_than_20", "REGION_IDENTICAL", "LENGTH_LEFT_LUNG",
	},
	Boston.Name: {
		"PTR_SEQUENCE_NUM", "time_on_dialysis", "DAYSWAIT_ALLOC", "KDPI", "PUMP_KI_N",
		"KIR_FINAL_FLUSH", "KIR_REASON_CD", "time_since_gfr_less_than_20", "DAYSWAIT_CHRON", "LENGTH_LEFT_LUNG",
		"AGE_DON", "PO2_DON", "CREAT_DON", "WGT_KG_DON_CALC", "BMI_DON_CALC",
		"INIT_EPTS", "BUN_DON", "CREAT_TRR", "PRI_PAYMENT_TRR_KI", "PH_DON",
	},
	LA.Name: {
		"PTR_SEQUENCE_NUM", "DAYSWAIT_ALLOC", "time_on_dialysis", "KDPI", "KIR_REASON_CD",
		"CREAT_DON", "CREAT_TRR", "C1_0", "NUM_ORG_DISC", "LENGTH_LEFT_LUNG",
		"SEPTAL_WALL", "CARDARREST_DOWNTM_DURATION", "BMI_CALC", "DAYSWAIT_CHRON", "SHARE_TY_Local",
		"PH_DON", "HGT_CM_CALC", "INIT_EPTS", "AGE_DON", "MEETS_DBL_KI_CRITERIA",
	},
}

// ImportantFeatures returns a copy of r's ordered feature list, or nil for an
// unknown region.
func ImportantFeatures(r Region) []string {
	src, ok := importantFeatures[r.Name]
	if !ok {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// ComparisonFeatures returns r's important features without the identifier
// and outcome columns, which carry no similarity signal.
func ComparisonFeatures(r Region) []string {
	all := ImportantFeatures(r)
	out := all[:0]
	for _, f := range all {
		if strings.EqualFold(f, SequenceField) || strings.EqualFold(f, OutcomeField) {
			continue
		}
		out = append(out, f)
	}
	return out
}
