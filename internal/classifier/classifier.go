// Package classifier converts object-detection output into business
// categories for channel content analysis.
package classifier

import (
	"sort"
	"strings"

	"github.com/addisanalytics/medtel-warehouse/internal/detector"
)

// Category is the business classification assigned to an image.
type Category string

// The fixed category set stored in raw.image_detections.
const (
	CategoryPromotional    Category = "promotional"
	CategoryProductDisplay Category = "product_display"
	CategoryLifestyle      Category = "lifestyle"
	CategoryOther          Category = "other"
)

const personLabel = "person"

// Result summarizes one classified image.
type Result struct {
	Category Category
	// Confidence is the maximum detection confidence, 0.0 when nothing
	// was detected.
	Confidence float64
	// Labels is the sorted set of distinct detected labels, kept for
	// diagnostics. It does not influence the category decision.
	Labels []string
}

// Classifier applies the category rules with a configurable product
// keyword set.
type Classifier struct {
	productKeywords map[string]struct{}
}

// New builds a Classifier from the configured product keywords.
func New(productKeywords []string) *Classifier {
	set := make(map[string]struct{}, len(productKeywords))
	for _, kw := range productKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			set[kw] = struct{}{}
		}
	}
	return &Classifier{productKeywords: set}
}

// Classify maps a detection set to a category and confidence summary.
// An empty detection set is a defined case, not an error: the image simply
// showed nothing the model recognizes.
//
// Rule precedence:
//  1. person and product present -> promotional
//  2. product without person     -> product_display
//  3. person without product     -> lifestyle
//  4. anything else              -> other
func (c *Classifier) Classify(dets []detector.Detection) Result {
	if len(dets) == 0 {
		return Result{Category: CategoryOther, Confidence: 0.0}
	}

	var (
		maxConf    float64
		hasPerson  bool
		hasProduct bool
	)
	distinct := make(map[string]struct{}, len(dets))
	for _, det := range dets {
		if det.Confidence > maxConf {
			maxConf = det.Confidence
		}
		label := strings.ToLower(det.Label)
		distinct[label] = struct{}{}
		if label == personLabel {
			hasPerson = true
		}
		if _, ok := c.productKeywords[label]; ok {
			hasProduct = true
		}
	}

	labels := make([]string, 0, len(distinct))
	for label := range distinct {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var category Category
	switch {
	case hasPerson && hasProduct:
		category = CategoryPromotional
	case hasProduct:
		category = CategoryProductDisplay
	case hasPerson:
		category = CategoryLifestyle
	default:
		category = CategoryOther
	}

	return Result{Category: category, Confidence: maxConf, Labels: labels}
}
