package auth

import (
	"fmt"
	"io"
	"sort"
)

var guides = map[string][]string{
	"apify": {
		"Sign in at https://console.apify.com",
		"Open Settings > Integrations",
		"Copy the personal API token",
	},
	"openai": {
		"Open https://platform.openai.com/api-keys (or your compatible provider's console)",
		"Create a secret key scoped to chat completions",
		"Set summary.base_url when the provider is not OpenAI",
	},
	"feishu": {
		"Open https://open.feishu.cn/app and select your app",
		"Copy the App Secret from Credentials & Basic Info",
		"Grant the app docx:document and im:message permissions",
		"Set publish.feishu.app_id and chat_id in the config file",
	},
}

// WriteGuide prints where to obtain the named secret. Unknown names list the
// well-known ones instead.
func WriteGuide(w io.Writer, name string) {
	steps, ok := guides[name]
	if !ok {
		fmt.Fprintf(w, "Unknown credential %q. Well-known names:\n", name)
		names := make([]string, 0, len(KnownNames))
		for n := range KnownNames {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(w, "  %-8s (env %s)\n", n, KnownNames[n])
		}
		return
	}

	fmt.Fprintf(w, "To obtain the %s secret:\n", name)
	for i, step := range steps {
		fmt.Fprintf(w, "  %d. %s\n", i+1, step)
	}
	fmt.Fprintf(w, "It can also be supplied through the %s environment variable.\n", KnownNames[name])
}
