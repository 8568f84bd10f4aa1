package matching

// Field weights used to rank non-matching requests when explaining why a
// handler was not called. Higher weights mark targets that say more about
// the caller's intent.
const (
	// ScorePathParams is the weight of matching path parameters.
	ScorePathParams = 12

	// ScoreHeaders is the weight of matching headers.
	ScoreHeaders = 10

	// ScoreSearchParams is the weight of matching search parameters.
	ScoreSearchParams = 10

	// ScoreBody is the weight of a matching body.
	ScoreBody = 25

	// ScoreJSONPath is the weight of matching JSONPath conditions.
	ScoreJSONPath = 15

	// ScoreSchema is the weight of a body satisfying the declared schema.
	ScoreSchema = 15

	// ScoreExpression is the weight of a true expression.
	ScoreExpression = 10

	// ScorePredicate is the weight of a true predicate.
	ScorePredicate = 5
)
