package preview

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/model"
)

func strPtr(s string) *string { return &s }

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		msg  *model.Message
		want string
	}{
		{"nil message", nil, model.PreviewPlaceholder},
		{"text", &model.Message{Kind: model.KindText, Text: strPtr("hello")}, "hello"},
		{"empty text", &model.Message{Kind: model.KindText}, EmptyText},
		{"image without caption", &model.Message{Kind: model.KindImage, Media: &model.Media{URL: "/m/1", MIME: "image/png"}}, Image},
		{"image with caption", &model.Message{Kind: model.KindImage, Text: strPtr("look"), Media: &model.Media{URL: "/m/1"}}, Image},
		{"video", &model.Message{Kind: model.KindVideo, Media: &model.Media{URL: "/m/2"}}, Video},
		{"audio", &model.Message{Kind: model.KindAudio, Media: &model.Media{URL: "/m/3"}}, Audio},
		{"file with name", &model.Message{Kind: model.KindFile, Media: &model.Media{URL: "/m/4", Filename: "report.pdf"}}, "report.pdf"},
		{"file without name", &model.Message{Kind: model.KindFile, Media: &model.Media{URL: "/m/4"}}, File},
		{"deleted text", &model.Message{Kind: model.KindText, IsDeleted: true}, Deleted},
		{"deleted image", &model.Message{Kind: model.KindImage, IsDeleted: true}, Deleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Of(tc.msg))
		})
	}
}

func TestOfCoversEveryKind(t *testing.T) {
	for _, k := range model.Kinds {
		got := Of(&model.Message{Kind: k, Media: &model.Media{URL: "/m"}})
		require.NotEmpty(t, got, "kind %s", k)
		require.NotEqual(t, model.PreviewPlaceholder, got)
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, model.KindText, model.KindOf(nil))
	require.Equal(t, model.KindVideo, model.KindOf(&model.Media{MIME: "video/mp4"}))
	require.Equal(t, model.KindImage, model.KindOf(&model.Media{MIME: "IMAGE/JPEG"}))
	require.Equal(t, model.KindAudio, model.KindOf(&model.Media{MIME: "audio/ogg"}))
	require.Equal(t, model.KindFile, model.KindOf(&model.Media{MIME: "application/pdf"}))
	require.Equal(t, model.KindFile, model.KindOf(&model.Media{}))
}
