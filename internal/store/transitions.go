package store

import "iqms/queue-service/internal/models"

var transitionMap = map[string][]string{
	"pop_next":          {models.StatusWaiting},
	"recall":            {models.StatusCalled},
	"start_service":     {models.StatusCalled, models.StatusWaiting},
	"end_service":       {models.StatusServing},
	"skip":              {models.StatusWaiting, models.StatusCalled},
	"no_show":           {models.StatusCalled},
	"transfer":          {models.StatusWaiting, models.StatusCalled, models.StatusServing},
	"return_to_waiting": {models.StatusWaiting, models.StatusCalled, models.StatusServing, models.StatusSkipped},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

var sessionTransitionMap = map[string][]string{
	"start":  {models.SessionScheduled},
	"pause":  {models.SessionRunning},
	"resume": {models.SessionPaused},
	"end":    {models.SessionRunning, models.SessionPaused},
	"cancel": {models.SessionScheduled},
}

func ValidSessionAction(action string) bool {
	_, ok := sessionTransitionMap[action]
	return ok
}

func ValidSessionTransition(action, fromStatus string) bool {
	allowed, ok := sessionTransitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
