package face

import "sort"

// SelectorMode controls how many faces the selector returns.
type SelectorMode int

const (
	SelectAll SelectorMode = iota
	SelectOne
	SelectReference
)

// SortOrder enumerates the supported orderings.
type SortOrder int

const (
	OrderLeftRight SortOrder = iota
	OrderRightLeft
	OrderTopBottom
	OrderBottomTop
	OrderSmallLarge
	OrderLargeSmall
	OrderBestWorst
	OrderWorstBest
)

// SelectorOptions filter and order a detected face list.
type SelectorOptions struct {
	Mode                SelectorMode
	Order               SortOrder
	Position            int
	Genders             []Gender
	Races               []Race
	AgeStart            int
	AgeEnd              int
	ReferenceFace       *Face
	SimilarityThreshold float64
}

// Select applies the filters in order (age, gender, race, reference
// similarity) and then sorts. Mode One truncates to the face at Position
// after sorting.
func Select(faces []*Face, opts SelectorOptions) []*Face {
	out := make([]*Face, 0, len(faces))
	for _, f := range faces {
		if !ageMatches(f, opts.AgeStart, opts.AgeEnd) {
			continue
		}
		if !genderMatches(f, opts.Genders) {
			continue
		}
		if !raceMatches(f, opts.Races) {
			continue
		}
		if opts.Mode == SelectReference {
			if opts.ReferenceFace == nil {
				continue
			}
			if Distance(f.NormedEmbedding, opts.ReferenceFace.NormedEmbedding) >= opts.SimilarityThreshold {
				continue
			}
		}
		out = append(out, f)
	}

	sortFaces(out, opts.Order)

	if opts.Mode == SelectOne {
		if opts.Position < 0 || opts.Position >= len(out) {
			return nil
		}
		return out[opts.Position : opts.Position+1]
	}
	return out
}

func ageMatches(f *Face, start, end int) bool {
	if start == 0 && end == 0 {
		return true
	}
	if end == 0 {
		end = 100
	}
	return f.Age.Max >= start && f.Age.Min <= end
}

func genderMatches(f *Face, genders []Gender) bool {
	if len(genders) == 0 {
		return true
	}
	for _, g := range genders {
		if f.Gender == g {
			return true
		}
	}
	return false
}

func raceMatches(f *Face, races []Race) bool {
	if len(races) == 0 {
		return true
	}
	for _, r := range races {
		if f.Race == r {
			return true
		}
	}
	return false
}

func sortFaces(faces []*Face, order SortOrder) {
	less := func(i, j int) bool { return faces[i].Box.X1 < faces[j].Box.X1 }
	switch order {
	case OrderLeftRight:
		// default
	case OrderRightLeft:
		less = func(i, j int) bool { return faces[i].Box.X1 > faces[j].Box.X1 }
	case OrderTopBottom:
		less = func(i, j int) bool { return faces[i].Box.Y1 < faces[j].Box.Y1 }
	case OrderBottomTop:
		less = func(i, j int) bool { return faces[i].Box.Y1 > faces[j].Box.Y1 }
	case OrderSmallLarge:
		less = func(i, j int) bool { return faces[i].Box.Area() < faces[j].Box.Area() }
	case OrderLargeSmall:
		less = func(i, j int) bool { return faces[i].Box.Area() > faces[j].Box.Area() }
	case OrderBestWorst:
		less = func(i, j int) bool { return faces[i].DetectorScore > faces[j].DetectorScore }
	case OrderWorstBest:
		less = func(i, j int) bool { return faces[i].DetectorScore < faces[j].DetectorScore }
	}
	sort.SliceStable(faces, less)
}

// ParseSortOrder maps the config spelling to a SortOrder.
func ParseSortOrder(s string) SortOrder {
	switch s {
	case "right-left":
		return OrderRightLeft
	case "top-bottom":
		return OrderTopBottom
	case "bottom-top":
		return OrderBottomTop
	case "small-large":
		return OrderSmallLarge
	case "large-small":
		return OrderLargeSmall
	case "best-worst":
		return OrderBestWorst
	case "worst-best":
		return OrderWorstBest
	}
	return OrderLeftRight
}

// ParseGender maps the config spelling to a Gender.
func ParseGender(s string) Gender {
	switch s {
	case "male":
		return GenderMale
	case "female":
		return GenderFemale
	}
	return GenderUnknown
}

// ParseRace maps the config spelling to a Race.
func ParseRace(s string) Race {
	switch s {
	case "white":
		return RaceWhite
	case "black":
		return RaceBlack
	case "latino":
		return RaceLatino
	case "asian":
		return RaceAsian
	case "indian":
		return RaceIndian
	case "arabic":
		return RaceArabic
	}
	return RaceUnknown
}
