package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/model"
)

var runDay = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func dob(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func rank(n int) *int { return &n }

func testGroup() model.JobGroup {
	return model.JobGroup{ID: "g1", Name: "Outdoor", MinAge: 15, MaxAge: 19}
}

func TestAge_BirthdayPrecision(t *testing.T) {
	assert.Equal(t, 16, engine.Age(*dob(2010, time.June, 1), runDay))
	assert.Equal(t, 15, engine.Age(*dob(2010, time.June, 2), runDay))
	assert.Equal(t, 15, engine.Age(*dob(2010, time.December, 31), runDay))
}

func TestGradeInRange(t *testing.T) {
	cases := []struct {
		name          string
		grade, lo, hi model.Grade
		want          bool
	}{
		{"inside", model.GradeYear9, model.GradeYear8, model.GradeGym1, true},
		{"at lower bound", model.GradeYear8, model.GradeYear8, model.GradeGym1, true},
		{"below", model.GradeYear7, model.GradeYear8, "", false},
		{"above", model.GradeGym2, "", model.GradeGym1, false},
		{"empty grade allowed", "", model.GradeYear8, model.GradeGym1, true},
		{"unknown grade allowed", "COLLEGE", model.GradeYear8, model.GradeGym1, true},
		{"unknown bound ignored", model.GradeYear1, "BOGUS", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, engine.GradeInRange(c.grade, c.lo, c.hi))
		})
	}
}

func TestCheckEligibility_Reasons(t *testing.T) {
	g := testGroup()
	job := model.Job{ID: "j1", Title: "Park", MinGrade: model.GradeYear9}

	ok, reason := engine.CheckEligibility(model.Youth{DateOfBirth: dob(2012, time.January, 1)}, job, g, runDay)
	assert.False(t, ok)
	assert.Equal(t, "Too young (age 14, min 15)", reason)

	ok, reason = engine.CheckEligibility(model.Youth{DateOfBirth: dob(2005, time.January, 1)}, job, g, runDay)
	assert.False(t, ok)
	assert.Equal(t, "Too old (age 21, max 19)", reason)

	ok, reason = engine.CheckEligibility(model.Youth{Grade: model.GradeYear8}, job, g, runDay)
	assert.False(t, ok)
	assert.Equal(t, "Grade YEAR_8 not in range YEAR_9-", reason)

	// No date of birth and no grade: nothing to check against.
	ok, _ = engine.CheckEligibility(model.Youth{}, job, g, runDay)
	assert.True(t, ok)
}

func TestCheckEligibility_RequiredAttributes(t *testing.T) {
	g := testGroup()
	job := model.Job{ID: "j1", RequiredAttributes: map[string]string{"school": "Ålidhemsskolan"}}

	ok, _ := engine.CheckEligibility(model.Youth{Attributes: map[string]string{"School": " ålidhemsskolan"}}, job, g, runDay)
	assert.True(t, ok, "matching is case and whitespace insensitive")

	ok, reason := engine.CheckEligibility(model.Youth{Attributes: map[string]string{"school": "Centralskolan"}}, job, g, runDay)
	assert.False(t, ok)
	assert.Equal(t, `Attribute "school" does not match`, reason)

	ok, _ = engine.CheckEligibility(model.Youth{}, job, g, runDay)
	assert.False(t, ok)
}

func TestFilter_BuildsWantListsInRankOrder(t *testing.T) {
	g := testGroup()
	jobs := []model.Job{
		{ID: "j1", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished},
		{ID: "j2", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished},
		{ID: "j3", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished},
	}
	youth := map[string]model.Youth{
		"y1": {ID: "y1"},
		"y2": {ID: "y2"},
	}
	apps := []model.Application{
		{ID: "a1", YouthID: "y2", JobID: "j1", Status: model.AppPending},
		{ID: "a2", YouthID: "y1", JobID: "j3", Status: model.AppPending, PriorityRank: rank(2)},
		{ID: "a3", YouthID: "y1", JobID: "j1", Status: model.AppLottery},
		{ID: "a4", YouthID: "y1", JobID: "j2", Status: model.AppPending, PriorityRank: rank(1)},
	}

	el, err := engine.Filter(g, jobs, apps, youth, runDay)
	require.NoError(t, err)
	require.Len(t, el.Candidates, 2)
	assert.Equal(t, 4, el.Checked)

	// First appearance order is preserved.
	assert.Equal(t, "y2", el.Candidates[0].YouthID)
	assert.Equal(t, "y1", el.Candidates[1].YouthID)
	// Ranked choices first, unranked last.
	assert.Equal(t, []string{"j2", "j3", "j1"}, el.Candidates[1].WantList())
	assert.ElementsMatch(t, []string{"a1", "a2", "a3", "a4"}, el.ApplicationIDs())
}

func TestFilter_LargeRankBeatsUnranked(t *testing.T) {
	g := testGroup()
	jobs := []model.Job{
		{ID: "unranked", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished},
		{ID: "ranked", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished},
	}
	youth := map[string]model.Youth{"y": {ID: "y"}}
	apps := []model.Application{
		{ID: "a1", YouthID: "y", JobID: "unranked", Status: model.AppPending},
		{ID: "a2", YouthID: "y", JobID: "ranked", Status: model.AppPending, PriorityRank: rank(1000)},
	}

	el, err := engine.Filter(g, jobs, apps, youth, runDay)
	require.NoError(t, err)
	require.Len(t, el.Candidates, 1)
	assert.Equal(t, []string{"ranked", "unranked"}, el.Candidates[0].WantList())

	alloc := engine.Allocate(engine.Rank(el.Candidates, 1), jobs)
	assert.Equal(t, map[string]string{"y": "ranked"}, alloc.Matched())
}

func TestFilter_RejectsNonPositiveRank(t *testing.T) {
	g := testGroup()
	jobs := []model.Job{{ID: "j1", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished}}
	youth := map[string]model.Youth{"y": {ID: "y"}}
	apps := []model.Application{{ID: "a1", YouthID: "y", JobID: "j1", Status: model.AppPending, PriorityRank: rank(0)}}

	_, err := engine.Filter(g, jobs, apps, youth, runDay)
	var ie *engine.InputError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Msg, "priority rank 0")
}

func TestFilter_SkipsProcessedAndUnpublished(t *testing.T) {
	g := testGroup()
	jobs := []model.Job{
		{ID: "j1", GroupID: "g1", TotalSpots: 1, Status: model.JobPublished},
		{ID: "draft", GroupID: "g1", TotalSpots: 1, Status: model.JobDraft},
	}
	youth := map[string]model.Youth{"y1": {ID: "y1"}, "y2": {ID: "y2"}}
	apps := []model.Application{
		{ID: "a1", YouthID: "y1", JobID: "j1", Status: model.AppOffered},
		{ID: "a2", YouthID: "y2", JobID: "draft", Status: model.AppPending},
	}

	el, err := engine.Filter(g, jobs, apps, youth, runDay)
	require.NoError(t, err)
	assert.Empty(t, el.Candidates)
	assert.Empty(t, el.Ineligible)
	assert.Zero(t, el.Checked)
}

func TestFilter_RecordsIneligible(t *testing.T) {
	g := testGroup()
	jobs := []model.Job{{ID: "j1", GroupID: "g1", Title: "Park", TotalSpots: 2, Status: model.JobPublished}}
	youth := map[string]model.Youth{
		"kid":  {ID: "kid", Email: "kid@example.se", DateOfBirth: dob(2013, time.March, 3)},
		"teen": {ID: "teen", DateOfBirth: dob(2009, time.March, 3)},
	}
	apps := []model.Application{
		{ID: "a1", YouthID: "kid", JobID: "j1", Status: model.AppPending},
		{ID: "a2", YouthID: "teen", JobID: "j1", Status: model.AppPending},
	}

	el, err := engine.Filter(g, jobs, apps, youth, runDay)
	require.NoError(t, err)
	require.Len(t, el.Candidates, 1)
	assert.Equal(t, "teen", el.Candidates[0].YouthID)
	require.Len(t, el.Ineligible, 1)
	assert.Equal(t, engine.Ineligible{
		ApplicationID: "a1",
		YouthID:       "kid",
		YouthEmail:    "kid@example.se",
		JobID:         "j1",
		JobTitle:      "Park",
		Reason:        "Too young (age 13, min 15)",
	}, el.Ineligible[0])
}

func TestFilter_InputContract(t *testing.T) {
	g := testGroup()
	jobs := []model.Job{{ID: "j1", GroupID: "g1", Status: model.JobPublished}}
	youth := map[string]model.Youth{"y1": {ID: "y1"}}

	_, err := engine.Filter(g, jobs, []model.Application{{ID: "a1", YouthID: "y1", JobID: "other", Status: model.AppPending}}, youth, runDay)
	var ie *engine.InputError
	require.ErrorAs(t, err, &ie)

	_, err = engine.Filter(g, jobs, []model.Application{
		{ID: "a1", YouthID: "y1", JobID: "j1", Status: model.AppPending},
		{ID: "a2", YouthID: "y1", JobID: "j1", Status: model.AppPending},
	}, youth, runDay)
	require.ErrorAs(t, err, &ie)

	_, err = engine.Filter(g, jobs, []model.Application{{ID: "a1", YouthID: "ghost", JobID: "j1", Status: model.AppPending}}, youth, runDay)
	require.ErrorAs(t, err, &ie)

	_, err = engine.Filter(g, []model.Job{{ID: "j9", GroupID: "g2"}}, nil, youth, runDay)
	require.ErrorAs(t, err, &ie)
}
