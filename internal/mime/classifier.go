package mime

// Classifier implements the sniffing decision algorithm over the six
// signature groups. It holds no mutable state and is safe for concurrent
// use; share one instance.
type Classifier struct {
	image      *Group
	audioVideo *Group
	scriptable *Group
	plaintext  *Group
	archive    *Group
	font       *Group

	binaryOrPlaintext BinaryOrPlaintext
	feeds             Feeds
}

func NewClassifier() *Classifier {
	return &Classifier{
		image:      imageGroup(),
		audioVideo: audioVideoGroup(),
		scriptable: scriptableGroup(),
		plaintext:  plaintextGroup(),
		archive:    archiveGroup(),
		font:       fontGroup(),
	}
}

var defaultClassifier = NewClassifier()

// Default returns the process-wide classifier.
func Default() *Classifier { return defaultClassifier }

// Classify runs the default classifier. See (*Classifier).Classify.
func Classify(noSniff, checkApacheBug bool, declared Type, data []byte) Type {
	return defaultClassifier.Classify(noSniff, checkApacheBug, declared, data)
}

// Classify resolves the content type of data. declared is the type the
// server sent, or the zero Type if it sent none. The result is never zero.
func (c *Classifier) Classify(noSniff, checkApacheBug bool, declared Type, data []byte) Type {
	if declared.IsZero() || declared.IsUnknown() {
		return c.sniffUnknown(!noSniff, data)
	}
	if noSniff {
		return declared
	}
	if checkApacheBug {
		return c.binaryOrPlaintext.Sniff(data)
	}
	if declared.IsXML() {
		return declared
	}
	if declared.IsHTML() {
		if t, ok := c.feeds.Classify(data); ok {
			return t
		}
		return declared
	}
	if declared.Type == "image" {
		if t, ok := c.image.Classify(data); ok {
			return t
		}
	}
	if declared.Type == "audio" || declared.Type == "video" || declared == (Type{"application", "ogg"}) {
		if t, ok := c.audioVideo.Classify(data); ok {
			return t
		}
	}
	return declared
}

func (c *Classifier) sniffUnknown(sniffScriptable bool, data []byte) Type {
	if sniffScriptable {
		if t, ok := c.scriptable.Classify(data); ok {
			return t
		}
	}
	for _, g := range []*Group{c.plaintext, c.image, c.audioVideo, c.archive} {
		if t, ok := g.Classify(data); ok {
			return t
		}
	}
	return c.binaryOrPlaintext.Sniff(data)
}

// Groups returns the named groups in a fixed order, for diagnostics. The
// returned groups must not be modified.
func (c *Classifier) Groups() []*Group {
	return []*Group{c.scriptable, c.plaintext, c.image, c.audioVideo, c.archive, c.font}
}

// Group returns a named group or nil.
func (c *Classifier) Group(name string) *Group {
	for _, g := range c.Groups() {
		if g.Name == name {
			return g
		}
	}
	return nil
}
