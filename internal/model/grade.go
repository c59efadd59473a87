package model

// Grade is a school year. Values are ordered from YEAR_1 through GYM_4.
type Grade string

const (
	GradeYear1 Grade = "YEAR_1"
	GradeYear2 Grade = "YEAR_2"
	GradeYear3 Grade = "YEAR_3"
	GradeYear4 Grade = "YEAR_4"
	GradeYear5 Grade = "YEAR_5"
	GradeYear6 Grade = "YEAR_6"
	GradeYear7 Grade = "YEAR_7"
	GradeYear8 Grade = "YEAR_8"
	GradeYear9 Grade = "YEAR_9"
	GradeGym1  Grade = "GYM_1"
	GradeGym2  Grade = "GYM_2"
	GradeGym3  Grade = "GYM_3"
	GradeGym4  Grade = "GYM_4"
)

var gradeOrder = []Grade{
	GradeYear1, GradeYear2, GradeYear3, GradeYear4, GradeYear5,
	GradeYear6, GradeYear7, GradeYear8, GradeYear9,
	GradeGym1, GradeGym2, GradeGym3, GradeGym4,
}

// Ordinal returns the position of g in the grade ladder, or -1 when g is
// empty or unknown.
func (g Grade) Ordinal() int {
	for i, o := range gradeOrder {
		if o == g {
			return i
		}
	}
	return -1
}
