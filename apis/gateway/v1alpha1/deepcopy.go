/*
Copyright 2026 The Faros Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import "k8s.io/apimachinery/pkg/runtime"

// DeepCopyObject implements runtime.Object so Users can be passed to
// EventRecorder and the dynamic client machinery without a generated
// clientset.

func (in *User) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	if in.Status.LastLogin != nil {
		t := in.Status.LastLogin.DeepCopy()
		out.Status.LastLogin = &t
	}
	return &out
}

func (in *UserList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := *in
	out.ListMeta = *in.ListMeta.DeepCopy()
	if in.Items != nil {
		out.Items = make([]User, len(in.Items))
		for i := range in.Items {
			out.Items[i] = *in.Items[i].DeepCopyObject().(*User)
		}
	}
	return &out
}

func (in *Key) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec.Expiration = *in.Spec.Expiration.DeepCopy()
	if in.Spec.Groups != nil {
		out.Spec.Groups = append([]string(nil), in.Spec.Groups...)
	}
	if in.Status.LastUsed != nil {
		t := in.Status.LastUsed.DeepCopy()
		out.Status.LastUsed = &t
	}
	return &out
}

func (in *KeyList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := *in
	out.ListMeta = *in.ListMeta.DeepCopy()
	if in.Items != nil {
		out.Items = make([]Key, len(in.Items))
		for i := range in.Items {
			out.Items[i] = *in.Items[i].DeepCopyObject().(*Key)
		}
	}
	return &out
}
