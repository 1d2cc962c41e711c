package config

const (
	// TopicIngredientDispatch carries one message per ingredient line branch awaiting a provider job.
	TopicIngredientDispatch = "ingredient.dispatch"

	// TopicIngredientCompletion carries verified provider completion/failure notifications.
	TopicIngredientCompletion = "ingredient.completion"

	// TopicRecipeFailed carries batch-level failure events for the reconciler.
	TopicRecipeFailed = "recipe.failed"

	// TopicOperatorAlert carries operator alerts such as provider credit exhaustion.
	TopicOperatorAlert = "operator.alert"
)

// Topics lists every topic the service publishes to, for pre-creation at bootstrap.
var Topics = []string{
	TopicIngredientDispatch,
	TopicIngredientCompletion,
	TopicRecipeFailed,
	TopicOperatorAlert,
}
