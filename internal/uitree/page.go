package uitree

// ContainerID is the id of the element lent to the video provider
const ContainerID = "video-container"

// Page is the host page layout of one consultation page load
type Page struct {
	Root      *Node
	Container *Node
}

// NewPage builds the host layout: a header, the provider container, and the controls bar
func NewPage() *Page {
	root := NewNode("body", "")
	header := NewNode("header", "consultation-header")
	content := NewNode("main", "consultation")
	container := NewNode("div", ContainerID)
	controls := NewNode("footer", "call-controls")

	// The layout is built before anything else can reach these nodes.
	_, _ = insertBefore(root, header, nil)
	_, _ = insertBefore(root, content, nil)
	_, _ = insertBefore(content, container, nil)
	_, _ = insertBefore(root, controls, nil)

	return &Page{Root: root, Container: container}
}

// ClearContainer is the host renderer reconciling the container back to empty once the call
// is over. It returns how many children it removed.
func (p *Page) ClearContainer() int {
	removed := 0
	for _, child := range p.Container.Children() {
		if _, err := RemoveChild(p.Container, child); err == nil {
			removed++
		}
	}
	return removed
}

// MediaElements counts the video tiles currently rendered in the container
func (p *Page) MediaElements() int {
	return p.Container.CountTag("video")
}
