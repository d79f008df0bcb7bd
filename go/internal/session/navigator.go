package session

// Screens the controller knows about
const (
	ScreenHome          = "Home"
	ScreenTimer         = "Timer"
	ScreenListSelection = "ListSelection"
)

// Navigator is the navigation host. Calls are made outside the controller's
// locks, but must not block on the controller.
type Navigator interface {
	NavigateTo(screen string, params map[string]any)
	ResetTo(screen string)
}

// NopNavigator ignores navigation requests
type NopNavigator struct{}

func (NopNavigator) NavigateTo(screen string, params map[string]any) {}
func (NopNavigator) ResetTo(screen string)                           {}
