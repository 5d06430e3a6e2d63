package canvas

// HandleKey applies a keyboard shortcut to the selection. Keys follow the DOM
// KeyboardEvent.key names. handled is false for keys with no binding, and
// every binding needs a selection.
func (c *Controller) HandleKey(key string, shift bool) (handled bool, err error) {
	switch key {
	case "ArrowUp":
		return true, c.Nudge(Up, shift)
	case "ArrowDown":
		return true, c.Nudge(Down, shift)
	case "ArrowLeft":
		return true, c.Nudge(Left, shift)
	case "ArrowRight":
		return true, c.Nudge(Right, shift)
	case "Delete", "Backspace":
		return true, c.DeleteSelected()
	case "r", "R":
		return true, c.Rotate()
	case "Escape":
		c.ClearSelection()
		return true, nil
	}
	return false, nil
}
