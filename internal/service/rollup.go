package service

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// combination identifies a (level, section?, subject) a teacher prices.
type combination struct {
	level   string
	section string
	subject string
}

func combinationOf(levelID string, sectionID *string, subjectID string) combination {
	c := combination{level: levelID, subject: subjectID}
	if sectionID != nil {
		c.section = *sectionID
	}
	return c
}

type studentSet map[string]struct{}

func (s studentSet) merge(other studentSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// rollupInput is everything the aggregator needs; it performs no I/O.
type rollupInput struct {
	prices      []models.Price
	paid        []models.RollupSessionCount
	due         []models.RollupSessionCount
	enrollments []models.RollupEnrollment
}

type leafTotals struct {
	paid     decimal.Decimal
	unpaid   decimal.Decimal
	students studentSet
}

// aggregateRollup folds per-combination figures into the level → section → subject
// tree. Money sums upward; student counts are distinct sets recomputed at every node.
// Prices define the tree: combinations without a price record are not reported.
func aggregateRollup(in rollupInput) *dto.DashboardRollup {
	leaves := make(map[combination]*leafTotals, len(in.prices))
	amounts := make(map[combination]decimal.Decimal, len(in.prices))
	for _, p := range in.prices {
		key := combinationOf(p.LevelID, p.SectionID, p.SubjectID)
		leaves[key] = &leafTotals{paid: decimal.Zero, unpaid: decimal.Zero, students: studentSet{}}
		amounts[key] = p.Amount
	}

	for _, c := range in.paid {
		key := combinationOf(c.LevelID, c.SectionID, c.SubjectID)
		if leaf, ok := leaves[key]; ok {
			leaf.paid = leaf.paid.Add(amounts[key].Mul(decimal.NewFromInt(int64(c.Count))))
		}
	}
	for _, c := range in.due {
		key := combinationOf(c.LevelID, c.SectionID, c.SubjectID)
		if leaf, ok := leaves[key]; ok {
			leaf.unpaid = leaf.unpaid.Add(amounts[key].Mul(decimal.NewFromInt(int64(c.Count))))
		}
	}
	for _, e := range in.enrollments {
		if leaf, ok := leaves[combinationOf(e.LevelID, e.SectionID, e.SubjectID)]; ok {
			leaf.students[e.StudentID] = struct{}{}
		}
	}

	root := &dto.DashboardRollup{RollupTotals: zeroTotals(), Levels: []dto.LevelRollup{}}
	rootStudents := studentSet{}
	levelIndex := map[string]int{}
	levelStudents := map[string]studentSet{}
	sectionIndex := map[string]map[string]int{}
	sectionStudents := map[string]map[string]studentSet{}

	// Prices arrive ordered by level, section (nulls first) and subject; the tree keeps that order.
	for _, p := range in.prices {
		key := combinationOf(p.LevelID, p.SectionID, p.SubjectID)
		leaf := leaves[key]
		subject := dto.SubjectRollup{
			ID:   p.SubjectID,
			Name: p.SubjectName,
			RollupTotals: dto.RollupTotals{
				TotalPaidAmount:     leaf.paid,
				TotalUnpaidAmount:   leaf.unpaid,
				TotalActiveStudents: len(leaf.students),
			},
		}

		li, ok := levelIndex[p.LevelID]
		if !ok {
			root.Levels = append(root.Levels, dto.LevelRollup{
				ID:           p.LevelID,
				Name:         p.LevelName,
				RollupTotals: zeroTotals(),
				Sections:     []dto.SectionRollup{},
				Subjects:     []dto.SubjectRollup{},
			})
			li = len(root.Levels) - 1
			levelIndex[p.LevelID] = li
			levelStudents[p.LevelID] = studentSet{}
			sectionIndex[p.LevelID] = map[string]int{}
			sectionStudents[p.LevelID] = map[string]studentSet{}
		}
		level := &root.Levels[li]

		if p.SectionID == nil {
			level.Subjects = append(level.Subjects, subject)
		} else {
			si, ok := sectionIndex[p.LevelID][key.section]
			if !ok {
				name := ""
				if p.SectionName != nil {
					name = *p.SectionName
				}
				level.Sections = append(level.Sections, dto.SectionRollup{
					ID:           key.section,
					Name:         name,
					RollupTotals: zeroTotals(),
					Subjects:     []dto.SubjectRollup{},
				})
				si = len(level.Sections) - 1
				sectionIndex[p.LevelID][key.section] = si
				sectionStudents[p.LevelID][key.section] = studentSet{}
			}
			section := &level.Sections[si]
			section.Subjects = append(section.Subjects, subject)
			addMoney(&section.RollupTotals, leaf)
			sectionStudents[p.LevelID][key.section].merge(leaf.students)
			section.TotalActiveStudents = len(sectionStudents[p.LevelID][key.section])
		}

		addMoney(&level.RollupTotals, leaf)
		levelStudents[p.LevelID].merge(leaf.students)
		level.TotalActiveStudents = len(levelStudents[p.LevelID])

		addMoney(&root.RollupTotals, leaf)
		rootStudents.merge(leaf.students)
	}
	root.TotalActiveStudents = len(rootStudents)
	return root
}

func zeroTotals() dto.RollupTotals {
	return dto.RollupTotals{TotalPaidAmount: decimal.Zero, TotalUnpaidAmount: decimal.Zero}
}

func addMoney(t *dto.RollupTotals, leaf *leafTotals) {
	t.TotalPaidAmount = t.TotalPaidAmount.Add(leaf.paid)
	t.TotalUnpaidAmount = t.TotalUnpaidAmount.Add(leaf.unpaid)
}
