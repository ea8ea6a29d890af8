package proactive

// Presentation metadata for alert types. These are pure lookups consumed by
// display layers; nothing in the engine branches on them.

// TypeIcon returns the icon name for an alert type.
func TypeIcon(t AlertType) string {
	switch t {
	case TypePrediction:
		return "trending-up"
	case TypeRecommendation:
		return "lightbulb"
	case TypeWarning:
		return "alert-triangle"
	case TypeOpportunity:
		return "target"
	default:
		return "bell"
	}
}

// TypeColor returns the display color for an alert type.
func TypeColor(t AlertType) string {
	switch t {
	case TypePrediction:
		return "blue"
	case TypeRecommendation:
		return "green"
	case TypeWarning:
		return "amber"
	case TypeOpportunity:
		return "purple"
	default:
		return "gray"
	}
}

// ImpactColor returns the display color for an impact level.
func ImpactColor(i Impact) string {
	switch i {
	case ImpactHigh:
		return "red"
	case ImpactMedium:
		return "amber"
	default:
		return "gray"
	}
}
