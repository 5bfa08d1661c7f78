package target

import (
	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/render"
	"github.com/vango-dev/pagecycle/pkg/tree"
)

// Link is a behavior that points its tag at one of its component's
// listeners. Anchors get an href, forms an action.
type Link struct {
	Listener string
}

// ModifyTag implements render.TagModifier.
func (l Link) ModifyTag(rc *render.Context, self tree.Index, tag *markup.Tag) *markup.Tag {
	ref, ok := PageRefFrom(rc.Context())
	if !ok {
		return tag
	}
	key := "href"
	if tag.Name == "form" {
		key = "action"
	}
	setAttr(tag, key, ListenerURL(ref.Map, ref.ID, ref.Version, rc.Tree().Path(self), l.Listener))
	return tag
}

func setAttr(tag *markup.Tag, key, val string) {
	for i := range tag.Attrs {
		if tag.Attrs[i].Key == key {
			tag.Attrs[i].Val = val
			return
		}
	}
	tag.Attrs = append(tag.Attrs, markup.Attr{Key: key, Val: val})
}
